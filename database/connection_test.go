package database

import (
	"testing"

	"github.com/ubsconjuntos/agenda-backend/internal/config"
)

func TestDSN(t *testing.T) {
	tcp := DSN(config.DatabaseConfig{User: "agenda", Password: "pw", Name: "agenda", Host: "db", Port: 5433})
	if tcp != "host=db user=agenda password=pw dbname=agenda port=5433 sslmode=disable" {
		t.Fatalf("tcp DSN = %q", tcp)
	}
	socket := DSN(config.DatabaseConfig{User: "agenda", Password: "pw", Name: "agenda", InstanceConnectionName: "proj:region:inst"})
	if socket != "host=/cloudsql/proj:region:inst user=agenda password=pw dbname=agenda sslmode=disable" {
		t.Fatalf("socket DSN = %q", socket)
	}
}
