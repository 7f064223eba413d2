package database

import (
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"postgresql", KindPostgreSQL, false},
		{"postgres", KindPostgreSQL, false},
		{"MySQL", KindMySQL, false},
		{" mariadb ", KindMariaDB, false},
		{"sqlite", KindSQLite, false},
		{"oracle", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKindTool(t *testing.T) {
	assert.Equal(t, "pg_dump", KindPostgreSQL.Tool())
	assert.Equal(t, "mysqldump", KindMySQL.Tool())
	assert.Equal(t, "mysqldump", KindMariaDB.Tool())
	assert.Equal(t, "sqlite3", KindSQLite.Tool())
	assert.Equal(t, "", Kind("oracle").Tool())

	assert.True(t, KindMariaDB.IsServer())
	assert.False(t, KindSQLite.IsServer())
}

func TestConnection_PostgresURLEscapesCredentials(t *testing.T) {
	conn := Connection{Kind: KindPostgreSQL, Host: "db", Username: "vw", Password: "p@ss/word", Name: "vault"}
	assert.Equal(t, "postgresql://vw:p%40ss%2Fword@db:5432/vault", conn.PostgresURL())
}

func TestConnection_MySQLDSN(t *testing.T) {
	conn := Connection{Kind: KindMySQL, Host: "db", Username: "vw", Password: "pw", Name: "vault"}

	cfg, err := mysql.ParseDSN(conn.MySQLDSN(5 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, "db:3306", cfg.Addr)
	assert.Equal(t, "vw", cfg.User)
	assert.Equal(t, "pw", cfg.Passwd)
	assert.Equal(t, "vault", cfg.DBName)
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	conn.Password = ""
	cfg, err = mysql.ParseDSN(conn.MySQLDSN(0))
	require.NoError(t, err)
	assert.Empty(t, cfg.User)
}

func TestConnection_Target(t *testing.T) {
	assert.Equal(t, "db:5432/vault", Connection{Kind: KindPostgreSQL, Host: "db", Name: "vault"}.Target())
	assert.Equal(t, "/data/db.sqlite3", Connection{Kind: KindSQLite, DataDir: "/data"}.Target())
}
