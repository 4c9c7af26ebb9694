package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "casedesk", Password: "pw", Name: "cases", Options: map[string]string{"application_name": "api"}})
	require.NoError(t, err)
	require.Equal(t, "host=localhost port=5432 user=casedesk dbname=cases password=pw application_name=api sslmode=disable", dsn)

	dsn, err = buildPostgresDSN(Config{Host: "db", Port: 6432, User: "u", Name: "n", Options: map[string]string{"sslmode": "require"}})
	require.NoError(t, err)
	require.Equal(t, "host=db port=6432 user=u dbname=n sslmode=require", dsn)

	_, err = buildPostgresDSN(Config{Name: "n"})
	require.ErrorIs(t, err, errMissingCredentials)

	dsn, err = buildPostgresDSN(Config{DSN: "postgres://x"})
	require.NoError(t, err)
	require.Equal(t, "postgres://x", dsn)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "root", Password: "pw", Name: "cases"})
	require.NoError(t, err)
	require.Equal(t, "root:pw@tcp(127.0.0.1:3306)/cases?charset=utf8mb4&loc=UTC&parseTime=True", dsn)

	dsn, err = buildMySQLDSN(Config{Host: "mysql", Port: 3307, User: "u", Name: "n", Options: map[string]string{"loc": "Europe/Berlin"}})
	require.NoError(t, err)
	require.Equal(t, "u@tcp(mysql:3307)/n?charset=utf8mb4&loc=Europe%2FBerlin&parseTime=True", dsn)

	_, err = buildMySQLDSN(Config{User: "u"})
	require.ErrorIs(t, err, errMissingCredentials)
}
