package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/quarrysearch/quarry/pkg/config"
)

func TestNewGivesUpOnUnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := New(ctx, config.PostgresConfig{Host: "127.0.0.1", Port: 1, User: "quarry", Database: "quarry", SSLMode: "disable"})
	if err == nil {
		t.Fatal("connected to a closed port")
	}
	if !strings.Contains(err.Error(), "connect to postgres 127.0.0.1") {
		t.Errorf("err = %v", err)
	}
}
