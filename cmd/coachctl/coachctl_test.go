package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/coachbot/internal/domain"
	"github.com/ashureev/coachbot/internal/persistence"
	"github.com/ashureev/coachbot/internal/store"
)

func seed(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "coachbot.db")
	repo, err := store.NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer repo.Close()

	now := time.Now().UTC()
	for _, s := range []struct {
		id       int64
		activity time.Time
	}{
		{1, now},
		{2, now.Add(-30 * 24 * time.Hour)},
	} {
		sess := domain.NewUserSession(s.id, s.activity)
		sess.ScenarioID = "metapersona"
		sess.FreeTurnsUsed = int(s.id)
		data, err := persistence.Encode(sess)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if err := repo.Upsert(context.Background(), s.id, data, s.activity); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	return dbPath
}

func execute(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--driver", "sqlite", "--db", dbPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestSessionsList(t *testing.T) {
	dbPath := seed(t)

	out, err := execute(t, dbPath, "sessions", "list")
	if err != nil {
		t.Fatalf("sessions list failed: %v", err)
	}
	if !strings.Contains(out, "metapersona") {
		t.Errorf("Expected scenario column, got:\n%s", out)
	}
	if !strings.Contains(out, "2 sessions") {
		t.Errorf("Expected session count, got:\n%s", out)
	}
}

func TestSessionsShow(t *testing.T) {
	dbPath := seed(t)

	out, err := execute(t, dbPath, "sessions", "show", "2")
	if err != nil {
		t.Fatalf("sessions show failed: %v", err)
	}
	var got domain.UserSession
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", out, err)
	}
	if got.UserID != 2 || got.FreeTurnsUsed != 2 {
		t.Errorf("Unexpected session %+v", got)
	}

	if _, err := execute(t, dbPath, "sessions", "show", "99"); err == nil {
		t.Errorf("Expected error for unknown user")
	}
	if _, err := execute(t, dbPath, "sessions", "show", "abc"); err == nil {
		t.Errorf("Expected error for malformed id")
	}
}

func TestPruneAndExport(t *testing.T) {
	dbPath := seed(t)

	out, err := execute(t, dbPath, "prune", "--days", "14")
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if !strings.Contains(out, "Pruned 1 sessions") {
		t.Errorf("Expected one pruned session, got %q", out)
	}

	out, err = execute(t, dbPath, "export")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	var lines []exportRecord
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var rec exportRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("Invalid NDJSON line %q: %v", sc.Text(), err)
		}
		lines = append(lines, rec)
	}
	if len(lines) != 1 || lines[0].UserID != 1 {
		t.Errorf("Expected only user 1 after prune, got %+v", lines)
	}

	if _, err := execute(t, dbPath, "prune", "--days", "0"); err == nil {
		t.Errorf("Expected error for non-positive --days")
	}
}
