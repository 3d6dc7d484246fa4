package sink

import (
	"context"
	"os"
	"testing"

	"github.com/ehr/ehrsim/internal/domain/scheduling"
	"github.com/ehr/ehrsim/internal/platform/db"
)

func TestPostgres_RoundTrip(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, url, 4, 1)
	if err != nil {
		t.Fatalf("NewPool() error: %v", err)
	}
	defer pool.Close()
	if _, err := db.MigratePostgres(ctx, pool); err != nil {
		t.Fatalf("MigratePostgres() error: %v", err)
	}

	s, err := NewPostgres(ctx, pool, 42, 1000)
	if err != nil {
		t.Fatalf("NewPostgres() error: %v", err)
	}
	f := register(t, s)

	id, err := s.CreateAppointment(ctx, booked(f, 540))
	if err != nil {
		t.Fatalf("CreateAppointment() error: %v", err)
	}
	if _, err := s.UpdateAppointmentStatus(ctx, id, scheduling.StatusNoShow, "", 600); err != nil {
		t.Fatalf("UpdateAppointmentStatus() error: %v", err)
	}

	counts, err := s.CountRecords(ctx)
	if err != nil {
		t.Fatalf("CountRecords() error: %v", err)
	}
	if counts["appointment"] != 1 || counts["provenance"] != 2 {
		t.Errorf("unexpected counts: %v", counts)
	}

	var activities []string
	rows, err := pool.Query(ctx, `SELECT activity FROM provenance WHERE run_id = $1 ORDER BY seq`, s.RunID())
	if err != nil {
		t.Fatalf("query provenance: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			t.Fatalf("scan: %v", err)
		}
		activities = append(activities, a)
	}
	if len(activities) != 2 || activities[0] != "CREATE" || activities[1] != "UPDATE" {
		t.Errorf("expected CREATE then UPDATE by seq, got %v", activities)
	}
}
