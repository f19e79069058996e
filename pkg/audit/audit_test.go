package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testKey(b byte) []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b + byte(i)
	}
	return k
}

func newKeyedLogger(t *testing.T, dir string) *Logger {
	t.Helper()
	l := NewLogger(dir)
	if err := l.SetKey(testKey(1)); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	return l
}

func readLines(t *testing.T, dir string) []Event {
	t.Helper()
	l := NewLogger(dir)
	events, err := l.readAll()
	if err != nil {
		t.Fatalf("readAll failed: %v", err)
	}
	return events
}

func TestNewLogger(t *testing.T) {
	tmpDir := t.TempDir()
	logger := NewLogger(tmpDir)

	if logger.Path() != tmpDir {
		t.Errorf("expected path %s, got %s", tmpDir, logger.Path())
	}
	if logger.prevHash != genesis {
		t.Errorf("expected prevHash %q, got %s", genesis, logger.prevHash)
	}
	if logger.sessionID == "" {
		t.Error("expected non-empty session id")
	}
	if other := NewLogger(tmpDir); other.sessionID == logger.sessionID {
		t.Error("expected unique session ids")
	}
}

func TestSetKeyEmpty(t *testing.T) {
	if err := NewLogger(t.TempDir()).SetKey(nil); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestLogSuccess(t *testing.T) {
	tmpDir := t.TempDir()
	logger := newKeyedLogger(t, tmpDir)

	if err := logger.LogSuccess(OpEntryAdd, "entry-1"); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}

	events := readLines(t, tmpDir)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Operation != OpEntryAdd {
		t.Errorf("expected op %s, got %s", OpEntryAdd, e.Operation)
	}
	if e.Result != ResultSuccess {
		t.Errorf("expected result success, got %s", e.Result)
	}
	if e.Entry == "" || e.Entry == "entry-1" {
		t.Errorf("entry id should be stored as an HMAC, got %q", e.Entry)
	}
	if e.Chain.Sequence != 1 || e.Chain.PrevHash != genesis {
		t.Errorf("unexpected chain %+v", e.Chain)
	}

	info, err := os.Stat(filepath.Join(tmpDir, time.Now().UTC().Format("2006-01")+".jsonl"))
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	if os.PathSeparator == '/' && info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600, got %o", info.Mode().Perm())
	}
}

func TestLogError(t *testing.T) {
	tmpDir := t.TempDir()
	logger := newKeyedLogger(t, tmpDir)

	if err := logger.LogError(OpVaultStorageSwitch, "", os.ErrPermission); err != nil {
		t.Fatalf("LogError failed: %v", err)
	}
	events := readLines(t, tmpDir)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Result != ResultError || events[0].Error == "" {
		t.Errorf("unexpected event %+v", events[0])
	}
	if events[0].Entry != "" {
		t.Errorf("expected no entry field, got %q", events[0].Entry)
	}
}

func TestChainIntegrity(t *testing.T) {
	tmpDir := t.TempDir()
	logger := newKeyedLogger(t, tmpDir)

	for i := 0; i < 5; i++ {
		if err := logger.LogSuccess(OpEntryUpdate, "entry"); err != nil {
			t.Fatalf("LogSuccess failed on iteration %d: %v", i, err)
		}
	}

	result, err := logger.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid chain, got errors: %v", result.Errors)
	}
	if result.RecordsTotal != 5 || result.RecordsVerified != 5 {
		t.Errorf("expected 5/5 records, got %d/%d", result.RecordsVerified, result.RecordsTotal)
	}
}

func TestChainPersistence(t *testing.T) {
	tmpDir := t.TempDir()

	first := newKeyedLogger(t, tmpDir)
	for i := 0; i < 3; i++ {
		if err := first.LogSuccess(OpEntryAdd, "a"); err != nil {
			t.Fatalf("LogSuccess failed: %v", err)
		}
	}

	second := newKeyedLogger(t, tmpDir)
	for i := 0; i < 2; i++ {
		if err := second.LogSuccess(OpEntryDelete, "b"); err != nil {
			t.Fatalf("LogSuccess failed: %v", err)
		}
	}

	result, err := second.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid chain after resume, got errors: %v", result.Errors)
	}
	if result.RecordsTotal != 5 {
		t.Errorf("expected 5 records, got %d", result.RecordsTotal)
	}
}

func TestPendingEventsFlushedOnSetKey(t *testing.T) {
	tmpDir := t.TempDir()
	logger := NewLogger(tmpDir)

	if err := logger.Log(OpVaultVerifyFailed, ResultDenied, "", "", nil); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Log(OpVaultVerifyFailed, ResultDenied, "", "", nil); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if logger.Pending() != 2 {
		t.Fatalf("expected 2 pending events, got %d", logger.Pending())
	}
	if _, err := os.Stat(filepath.Join(tmpDir, metaFile)); !os.IsNotExist(err) {
		t.Error("nothing should be written while locked")
	}

	if err := logger.SetKey(testKey(1)); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	if logger.Pending() != 0 {
		t.Errorf("expected queue to be flushed, got %d", logger.Pending())
	}

	events := readLines(t, tmpDir)
	if len(events) != 2 || events[0].Operation != OpVaultVerifyFailed {
		t.Fatalf("unexpected events: %+v", events)
	}

	logger.ClearKey()
	if err := logger.LogSuccess(OpVaultLock, ""); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if logger.Pending() != 1 {
		t.Errorf("expected event to be queued after ClearKey")
	}
	if _, err := logger.Verify(); err != ErrKeyNotSet {
		t.Errorf("expected ErrKeyNotSet, got %v", err)
	}
}

func TestKeyRotation(t *testing.T) {
	tmpDir := t.TempDir()

	old := newKeyedLogger(t, tmpDir)
	for i := 0; i < 3; i++ {
		if err := old.LogSuccess(OpEntryAdd, "x"); err != nil {
			t.Fatalf("LogSuccess failed: %v", err)
		}
	}

	rotated := NewLogger(tmpDir)
	if err := rotated.SetKey(testKey(9)); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	if err := rotated.LogSuccess(OpVaultPasswordChange, ""); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}

	events := readLines(t, tmpDir)
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	if events[3].Operation != OpKeyRotated {
		t.Errorf("expected rotation marker at index 3, got %s", events[3].Operation)
	}
	if events[3].Chain.Sequence != 4 {
		t.Errorf("expected marker to continue sequence, got %d", events[3].Chain.Sequence)
	}

	result, err := rotated.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid chain, got %v", result.Errors)
	}
	if result.RecordsSkipped != 3 || result.RecordsVerified != 2 {
		t.Errorf("expected 3 skipped / 2 verified, got %d / %d", result.RecordsSkipped, result.RecordsVerified)
	}

	// Same key again: no second marker.
	again := NewLogger(tmpDir)
	if err := again.SetKey(testKey(9)); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	if n := len(readLines(t, tmpDir)); n != 5 {
		t.Errorf("expected no new marker, got %d events", n)
	}
}

func TestTamperingDetection(t *testing.T) {
	setup := func(t *testing.T) (*Logger, string) {
		tmpDir := t.TempDir()
		logger := newKeyedLogger(t, tmpDir)
		for i := 0; i < 3; i++ {
			if err := logger.LogSuccess(OpEntryUpdate, "entry"); err != nil {
				t.Fatalf("LogSuccess failed: %v", err)
			}
		}
		files, _ := filepath.Glob(filepath.Join(tmpDir, "*.jsonl"))
		if len(files) != 1 {
			t.Fatalf("expected 1 log file, got %d", len(files))
		}
		return logger, files[0]
	}

	rewrite := func(t *testing.T, path string, mutate func([]Event) []Event) {
		t.Helper()
		events, err := readLogFile(path)
		if err != nil {
			t.Fatalf("readLogFile failed: %v", err)
		}
		events = mutate(events)
		var sb strings.Builder
		for _, e := range events {
			data, _ := json.Marshal(e)
			sb.Write(data)
			sb.WriteByte('\n')
		}
		if err := os.WriteFile(path, []byte(sb.String()), 0600); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	t.Run("modified record", func(t *testing.T) {
		logger, path := setup(t)
		rewrite(t, path, func(ev []Event) []Event {
			ev[1].Operation = OpEntryDelete
			return ev
		})
		result, err := logger.Verify()
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if result.Valid {
			t.Error("expected tampering to be detected")
		}
	})

	t.Run("deleted record", func(t *testing.T) {
		logger, path := setup(t)
		rewrite(t, path, func(ev []Event) []Event {
			return append(ev[:1], ev[2:]...)
		})
		result, err := logger.Verify()
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if result.Valid {
			t.Error("expected deletion to be detected")
		}
	})

	t.Run("reordered records", func(t *testing.T) {
		logger, path := setup(t)
		rewrite(t, path, func(ev []Event) []Event {
			ev[0], ev[1] = ev[1], ev[0]
			return ev
		})
		result, err := logger.Verify()
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if result.Valid {
			t.Error("expected reordering to be detected")
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		_, path := setup(t)
		other := NewLogger(filepath.Dir(path))
		other.hmacKey, _ = deriveKey(testKey(7))
		result, err := other.Verify()
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if result.Valid {
			t.Error("expected verification with a different key to fail")
		}
	})
}

func TestVerifyEmptyLog(t *testing.T) {
	logger := newKeyedLogger(t, t.TempDir())
	result, err := logger.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid || result.RecordsTotal != 0 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestListEvents(t *testing.T) {
	tmpDir := t.TempDir()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	current := base
	logger := NewLogger(tmpDir, WithClock(func() time.Time { return current }))
	if err := logger.SetKey(testKey(1)); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		current = base.Add(time.Duration(i) * time.Hour)
		if err := logger.LogSuccess(OpEntryAdd, ""); err != nil {
			t.Fatalf("LogSuccess failed: %v", err)
		}
	}

	all, err := logger.ListEvents(0, time.Time{})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("expected 5 events, got %d", len(all))
	}

	last, err := logger.ListEvents(2, time.Time{})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(last) != 2 || last[1].Chain.Sequence != 5 {
		t.Errorf("expected the two most recent events, got %+v", last)
	}

	recent, err := logger.ListEvents(0, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("expected 2 events after cutoff, got %d", len(recent))
	}
}

func TestExport(t *testing.T) {
	logger := newKeyedLogger(t, t.TempDir())
	if err := logger.LogError(OpVaultStorageSwitch, "", os.ErrInvalid); err != nil {
		t.Fatalf("LogError failed: %v", err)
	}
	if err := logger.Log(OpEntryAdd, ResultSuccess, "", "=cmd|calc", nil); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	data, err := logger.Export("json", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Export json failed: %v", err)
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("invalid json export: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}

	data, err = logger.Export("csv", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Export csv failed: %v", err)
	}
	out := string(data)
	if !strings.HasPrefix(out, "timestamp,operation,result,entry,error\n") {
		t.Errorf("unexpected csv header: %q", out)
	}
	if !strings.Contains(out, "'=cmd|calc") {
		t.Errorf("expected formula to be neutralized: %q", out)
	}

	if _, err := logger.Export("xml", time.Time{}, time.Time{}); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestPurge(t *testing.T) {
	tmpDir := t.TempDir()
	logger := newKeyedLogger(t, tmpDir)
	if err := logger.LogSuccess(OpEntryAdd, "a"); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}

	if err := logger.Purge(); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	files, _ := filepath.Glob(filepath.Join(tmpDir, "*"))
	if len(files) != 0 {
		t.Errorf("expected empty directory, got %v", files)
	}

	// Logging continues with a fresh chain.
	if err := logger.LogSuccess(OpVaultCreate, ""); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}
	events := readLines(t, tmpDir)
	if len(events) != 1 || events[0].Chain.Sequence != 1 {
		t.Errorf("unexpected events after purge: %+v", events)
	}
}
