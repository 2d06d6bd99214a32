package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/nugget/resume-interviewer/internal/profile"
)

func setupTestStore(t *testing.T) *Store {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Every pooled connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestProfileRoundTrip(t *testing.T) {
	s := setupTestStore(t)

	p := profile.New("alice")
	p.SetScalar("first_name", "Анна")
	rec := p.PrependRecord("work_experience", map[string]any{"exp_company": "Acme"})
	p.AddInsight("цель", "рост")
	if err := s.SaveProfile(p); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	got, err := s.Profile(p.ID)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if got.ScalarString("first_name") != "Анна" {
		t.Errorf("first_name = %q", got.ScalarString("first_name"))
	}
	if recs := got.Records("work_experience"); len(recs) != 1 || recs[0].ID != rec.ID {
		t.Errorf("records = %+v", recs)
	}
	if len(got.IssuedIDs) != 1 || len(got.Insights) != 1 {
		t.Errorf("issued = %v insights = %v", got.IssuedIDs, got.Insights)
	}

	if _, err := s.Profile("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Profile(missing) = %v, want ErrNotFound", err)
	}
}

func TestActiveProfile(t *testing.T) {
	s := setupTestStore(t)

	if _, err := s.ActiveProfile("alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store ActiveProfile = %v, want ErrNotFound", err)
	}

	old := profile.New("alice")
	if err := s.SaveProfile(old); err != nil {
		t.Fatal(err)
	}
	current := profile.New("alice")
	if err := s.SaveProfile(current); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProfile(profile.New("bob")); err != nil {
		t.Fatal(err)
	}

	got, err := s.ActiveProfile("alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != current.ID {
		t.Errorf("ActiveProfile = %s, want newest %s", got.ID, current.ID)
	}

	current.Complete()
	if err := s.SaveProfile(current); err != nil {
		t.Fatal(err)
	}
	got, err = s.ActiveProfile("alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != old.ID {
		t.Errorf("after completing newest, ActiveProfile = %s, want %s", got.ID, old.ID)
	}

	latest, err := s.LatestProfile("alice")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != current.ID {
		t.Errorf("LatestProfile = %s, want %s", latest.ID, current.ID)
	}

	if err := s.ArchiveProfile(old); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ActiveProfile("alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ActiveProfile after archive = %v, want ErrNotFound", err)
	}

	all, err := s.Profiles("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("Profiles = %d, want 2", len(all))
	}
}

func TestSessions(t *testing.T) {
	s := setupTestStore(t)

	p := profile.New("alice")
	if err := s.SaveProfile(p); err != nil {
		t.Fatal(err)
	}
	sess, err := s.CreateSession("alice", p)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sess.CurrentField = "exp_company"
	sess.OpenLoop("work_experience")
	sess.Loop.Item["exp_company"] = "Acme"
	if err := s.SaveSession(sess); err != nil {
		t.Fatal(err)
	}

	got, err := s.ActiveSession("alice")
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if got.ID != sess.ID || got.CurrentField != "exp_company" {
		t.Errorf("session = %+v", got)
	}
	if !got.InLoop() || got.Loop.Item["exp_company"] != "Acme" {
		t.Errorf("loop buffer not persisted: %+v", got.Loop)
	}

	byProfile, err := s.SessionForProfile(p.ID)
	if err != nil || byProfile.ID != sess.ID {
		t.Errorf("SessionForProfile = %v, %v", byProfile, err)
	}

	if err := s.ArchiveSessions("alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ActiveSession("alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ActiveSession after archive = %v, want ErrNotFound", err)
	}
}

func TestActiveSession_CompletedProfile(t *testing.T) {
	s := setupTestStore(t)

	p := profile.New("alice")
	if err := s.SaveProfile(p); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateSession("alice", p); err != nil {
		t.Fatal(err)
	}
	p.Complete()
	if err := s.SaveProfile(p); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ActiveSession("alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ActiveSession with completed profile = %v, want ErrNotFound", err)
	}
}

func TestRecentTurns(t *testing.T) {
	s := setupTestStore(t)

	for i := 0; i < 5; i++ {
		role := profile.RoleHuman
		if i%2 == 1 {
			role = profile.RoleAssistant
		}
		if err := s.AppendTurn("s1", role, fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.AppendTurn("s2", profile.RoleHuman, "other"); err != nil {
		t.Fatal(err)
	}

	turns, err := s.RecentTurns("s1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(turns))
	}
	for i, want := range []string{"msg 2", "msg 3", "msg 4"} {
		if turns[i].Content != want {
			t.Errorf("turns[%d] = %q, want %q", i, turns[i].Content, want)
		}
	}
	if turns[1].Role != profile.RoleAssistant {
		t.Errorf("turns[1].Role = %s, want assistant", turns[1].Role)
	}
	if turns[0].Timestamp.IsZero() {
		t.Error("timestamp not parsed")
	}

	none, err := s.RecentTurns("s1", 0)
	if err != nil || len(none) != 0 {
		t.Errorf("RecentTurns(limit 0) = %v, %v", none, err)
	}
}

func TestOpen_PureGoDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interviews.db")
	s, err := Open("sqlite", path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	p := profile.New("alice")
	if err := s.SaveProfile(p); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ActiveProfile("alice"); err != nil {
		t.Errorf("ActiveProfile: %v", err)
	}

	if _, err := Open("postgres", path); err == nil {
		t.Error("Open with unknown driver should fail")
	}
}

func TestCreateProfile_SkipsEmptySeed(t *testing.T) {
	s := setupTestStore(t)

	p, err := s.CreateProfile("carol", map[string]any{
		"first_name": "Ольга",
		"phone":      "",
		"last_name":  nil,
	})
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	got, err := s.ActiveProfile("carol")
	if err != nil {
		t.Fatalf("ActiveProfile: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("active = %s, want %s", got.ID, p.ID)
	}
	if got.ScalarString("first_name") != "Ольга" {
		t.Errorf("first_name = %q", got.ScalarString("first_name"))
	}
	if len(got.Scalars) != 1 {
		t.Errorf("scalars = %v, want only first_name", got.Scalars)
	}
}
