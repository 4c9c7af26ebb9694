package app

import "github.com/charlesng35/casedesk/internal/database"

// ConnectionConfig converts the database section into database.Open options.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	return database.Config{
		Driver:          c.Driver,
		Path:            c.Path,
		DSN:             c.DSN,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.Username,
		Password:        c.Password,
		Name:            c.Name,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

// SeedOptions returns the bootstrap administrator, if one is configured.
func (c BootstrapConfig) SeedOptions() database.SeedOptions {
	if c.AdminEmail == "" || c.AdminPassword == "" {
		return database.SeedOptions{}
	}
	return database.SeedOptions{Admin: &database.BootstrapAdmin{
		Email:    c.AdminEmail,
		FullName: c.AdminName,
		Password: c.AdminPassword,
	}}
}
