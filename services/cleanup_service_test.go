package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AbdelrhmanX7/memorly-server/config"
	"github.com/AbdelrhmanX7/memorly-server/models"

	"gorm.io/gorm"
)

func newCleanupFixture() (*uploadFixture, CleanupService) {
	f := newUploadFixture()
	return f, NewCleanupService(f.sessions, f.parts, f.progress, f.store)
}

func backdateSession(t *testing.T, f *uploadFixture, uploadID string) {
	t.Helper()
	session, err := f.sessions.GetByUploadID(context.Background(), nil, uploadID)
	if err != nil {
		t.Fatalf("load session %s: %v", uploadID, err)
	}
	session.ExpiresAt = time.Now().Add(-time.Hour)
	f.sessions.sessions[uploadID] = session
}

func TestCleanupReapsExpiredSessions(t *testing.T) {
	f, cleanup := newCleanupFixture()

	stale := initiateSession(t, f, 12582912, 3)
	uploadPartN(t, f, stale.UploadID, 1, 5*mib)
	idle := initiateSession(t, f, 6291456, 2)
	fresh := initiateSession(t, f, 6291456, 2)
	backdateSession(t, f, stale.UploadID)
	backdateSession(t, f, idle.UploadID)

	cleaned, err := cleanup.CleanExpiredSessions(context.Background())
	if err != nil {
		t.Fatalf("CleanExpiredSessions returned error: %v", err)
	}
	if cleaned != 2 {
		t.Fatalf("expected 2 sessions cleaned, got %d", cleaned)
	}
	if len(f.store.aborted) != 2 {
		t.Fatalf("expected 2 store sessions released, got %#v", f.store.aborted)
	}

	for _, uploadID := range []string{stale.UploadID, idle.UploadID} {
		if _, err := f.sessions.GetByUploadID(context.Background(), nil, uploadID); !errors.Is(err, gorm.ErrRecordNotFound) {
			t.Fatalf("expected reaped session %s deleted, got %v", uploadID, err)
		}
		if count, _ := f.parts.CountBySession(context.Background(), nil, uploadID); count != 0 {
			t.Fatalf("expected part rows for %s deleted, got %d", uploadID, count)
		}
	}
	if f.progress.clearedCount != 2 {
		t.Fatalf("expected progress cleared for 2 sessions, got %d", f.progress.clearedCount)
	}

	session, err := f.sessions.GetByUploadID(context.Background(), nil, fresh.UploadID)
	if err != nil {
		t.Fatalf("unexpired session was reaped: %v", err)
	}
	if session.Status != models.UploadStatusInitiated {
		t.Fatalf("unexpired session status changed to %s", session.Status)
	}
}

func TestCleanupSkipsTerminalSessions(t *testing.T) {
	f, cleanup := newCleanupFixture()

	done := initiateSession(t, f, 6291456, 2)
	uploadPartN(t, f, done.UploadID, 1, 5*mib)
	uploadPartN(t, f, done.UploadID, 2, mib)
	if _, err := f.svc.CompleteUpload(context.Background(), 1, done.UploadID); err != nil {
		t.Fatalf("complete returned error: %v", err)
	}
	backdateSession(t, f, done.UploadID)

	cleaned, err := cleanup.CleanExpiredSessions(context.Background())
	if err != nil {
		t.Fatalf("CleanExpiredSessions returned error: %v", err)
	}
	if cleaned != 0 {
		t.Fatalf("expected completed session untouched, cleaned %d", cleaned)
	}
	session, err := f.sessions.GetByUploadID(context.Background(), nil, done.UploadID)
	if err != nil {
		t.Fatalf("completed session was deleted: %v", err)
	}
	if session.Status != models.UploadStatusCompleted {
		t.Fatalf("expected status completed, got %s", session.Status)
	}
}

func TestCleanupRetainsAbortedRowsWhenConfigured(t *testing.T) {
	f, cleanup := newCleanupFixture()
	config.AppConfig.Cleanup.RetainAborted = true

	stale := initiateSession(t, f, 12582912, 3)
	uploadPartN(t, f, stale.UploadID, 1, 5*mib)
	backdateSession(t, f, stale.UploadID)

	cleaned, err := cleanup.CleanExpiredSessions(context.Background())
	if err != nil {
		t.Fatalf("CleanExpiredSessions returned error: %v", err)
	}
	if cleaned != 1 {
		t.Fatalf("expected 1 session cleaned, got %d", cleaned)
	}

	session, err := f.sessions.GetByUploadID(context.Background(), nil, stale.UploadID)
	if err != nil {
		t.Fatalf("expected retained session row, got %v", err)
	}
	if session.Status != models.UploadStatusAborted {
		t.Fatalf("expected retained session marked aborted, got %s", session.Status)
	}
	if count, _ := f.parts.CountBySession(context.Background(), nil, stale.UploadID); count != 1 {
		t.Fatalf("expected part rows retained, got %d", count)
	}
}

func TestCleanupContinuesPastFailingSession(t *testing.T) {
	f, cleanup := newCleanupFixture()

	broken := initiateSession(t, f, 6291456, 2)
	healthy := initiateSession(t, f, 6291456, 2)
	backdateSession(t, f, broken.UploadID)
	backdateSession(t, f, healthy.UploadID)

	f.store.abortErr = errStoreDown
	f.store.abortErrFor = broken.UploadID

	cleaned, err := cleanup.CleanExpiredSessions(context.Background())
	if err != nil {
		t.Fatalf("CleanExpiredSessions returned error: %v", err)
	}
	if cleaned != 1 {
		t.Fatalf("expected 1 session cleaned, got %d", cleaned)
	}

	// The failing session stays pending and is retried on the next sweep.
	session, err := f.sessions.GetByUploadID(context.Background(), nil, broken.UploadID)
	if err != nil {
		t.Fatalf("failing session was deleted: %v", err)
	}
	if session.IsTerminal() {
		t.Fatalf("failing session must stay pending, got %s", session.Status)
	}
	if _, err := f.sessions.GetByUploadID(context.Background(), nil, healthy.UploadID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected healthy session reaped, got %v", err)
	}

	f.store.abortErr = nil
	cleaned, err = cleanup.CleanExpiredSessions(context.Background())
	if err != nil {
		t.Fatalf("second sweep returned error: %v", err)
	}
	if cleaned != 1 {
		t.Fatalf("expected retried session cleaned, got %d", cleaned)
	}
}

func TestCleanupReapedSessionRejectsClientCalls(t *testing.T) {
	f, cleanup := newCleanupFixture()

	stale := initiateSession(t, f, 12582912, 3)
	uploadPartN(t, f, stale.UploadID, 1, 5*mib)
	backdateSession(t, f, stale.UploadID)

	if _, err := cleanup.CleanExpiredSessions(context.Background()); err != nil {
		t.Fatalf("CleanExpiredSessions returned error: %v", err)
	}

	_, err := f.svc.UploadPart(context.Background(), 1, stale.UploadID, 2, bytes.NewReader([]byte("x")), 5*mib)
	assertAppError(t, err, CodeSessionNotFound)
	_, err = f.svc.CompleteUpload(context.Background(), 1, stale.UploadID)
	assertAppError(t, err, CodeSessionNotFound)
}
