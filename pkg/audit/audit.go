// Package audit provides an append-only vault event log with an HMAC chain
// for tamper detection.
//
// The chain key is derived from the vault key with HKDF, so records can only
// be written and verified while the vault is unlocked. Events raised while
// locked are queued in memory and written on the next SetKey. A master
// password change yields a new key; the first record under the new key is a
// rotation marker and verification covers the records since the last marker.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
)

// MinAuditDiskSpace is the free space required before appending a record.
const MinAuditDiskSpace = 1024 * 1024

// Operation types
const (
	OpVaultCreate         = "vault.create"
	OpVaultUnlock         = "vault.unlock"
	OpVaultLock           = "vault.lock"
	OpVaultVerifyFailed   = "vault.verify_failed"
	OpVaultWipe           = "vault.wipe"
	OpVaultPasswordChange = "vault.password_change"
	OpVaultStorageSwitch  = "vault.storage_switch"
	OpVaultSettings       = "vault.settings"
	OpVaultBackup         = "vault.backup"
	OpVaultRestore        = "vault.restore"

	OpEntryAdd    = "entry.add"
	OpEntryUpdate = "entry.update"
	OpEntryDelete = "entry.delete"

	OpTransferExport = "transfer.export"
	OpTransferImport = "transfer.import"

	// OpKeyRotated starts a new chain segment under a new key.
	OpKeyRotated = "audit.key_rotated"
)

// Result values
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

const (
	genesis     = "genesis"
	hkdfInfo    = "passvault/audit/v1"
	metaFile    = "audit.meta"
	fingerprint = "passvault/audit/fingerprint"
)

// ErrKeyNotSet indicates an operation that needs the chain key while the
// vault is locked.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is a single audit record, one JSON object per line.
type Event struct {
	Version   int            `json:"v"`
	ID        string         `json:"id"`
	Timestamp string         `json:"ts"` // RFC 3339, nanosecond precision
	Operation string         `json:"op"`
	Entry     string         `json:"entry,omitempty"` // HMAC of the entry id
	Session   string         `json:"session"`
	Result    string         `json:"result"`
	Error     string         `json:"error,omitempty"`
	Context   map[string]any `json:"ctx,omitempty"`
	Chain     Chain          `json:"chain"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// chainState is persisted next to the log so appends continue the chain.
type chainState struct {
	Sequence    int64  `json:"seq"`
	PrevHash    string `json:"prev"`
	Fingerprint string `json:"key"`
}

// Logger appends events to monthly JSONL files under its directory.
type Logger struct {
	path      string
	mu        sync.Mutex
	hmacKey   []byte
	sequence  int64
	prevHash  string
	sessionID string
	pending   []Event
	now       func() time.Time
	log       *zap.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithLogger sets the diagnostics logger used for non-fatal warnings.
func WithLogger(log *zap.Logger) Option {
	return func(l *Logger) {
		if log != nil {
			l.log = log
		}
	}
}

// NewLogger creates a logger writing to path. Nothing is written until a
// key is set.
func NewLogger(path string, opts ...Option) *Logger {
	l := &Logger{
		path:      path,
		prevHash:  genesis,
		sessionID: uuid.NewString(),
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the audit log directory.
func (l *Logger) Path() string {
	return l.path
}

// SetKey derives the chain key from the vault key and flushes any events
// queued while locked. If the log was last written under a different key a
// rotation marker is appended first.
func (l *Logger) SetKey(vaultKey []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key, err := deriveKey(vaultKey)
	if err != nil {
		return err
	}
	l.hmacKey = key

	state, err := l.loadChainState()
	switch {
	case err == nil:
		l.sequence = state.Sequence
		l.prevHash = state.PrevHash
	case os.IsNotExist(err):
		l.sequence = l.lastSequence()
		l.prevHash = genesis
		if l.sequence > 0 {
			// Records exist but their key is unknown.
			state = &chainState{Fingerprint: "unknown"}
		}
	default:
		l.log.Warn("audit chain state unreadable, starting new segment", zap.Error(err))
		l.sequence = l.lastSequence()
		l.prevHash = genesis
		state = &chainState{Fingerprint: "unknown"}
	}

	if state != nil && state.Fingerprint != "" && state.Fingerprint != l.fingerprint() {
		marker := l.newEvent(OpKeyRotated, ResultSuccess, "", "", nil)
		if err := l.append(&marker, true); err != nil {
			return err
		}
	}

	queued := l.pending
	l.pending = nil
	for i := range queued {
		if err := l.append(&queued[i], false); err != nil {
			return err
		}
	}
	return nil
}

// ClearKey wipes the chain key. Subsequent events are queued.
func (l *Logger) ClearKey() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.hmacKey {
		l.hmacKey[i] = 0
	}
	l.hmacKey = nil
}

// Pending returns the number of queued events.
func (l *Logger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Log records an event. entryID, when set, is stored as an HMAC so the log
// does not reveal which entries exist. Without a key the event is queued.
func (l *Logger) Log(op, result, entryID, errMsg string, ctx map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event := l.newEvent(op, result, entryID, errMsg, ctx)
	if l.hmacKey == nil {
		l.pending = append(l.pending, event)
		return nil
	}
	return l.append(&event, false)
}

// LogSuccess records a successful operation.
func (l *Logger) LogSuccess(op, entryID string) error {
	return l.Log(op, ResultSuccess, entryID, "", nil)
}

// LogError records a failed operation.
func (l *Logger) LogError(op, entryID string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return l.Log(op, ResultError, entryID, msg, nil)
}

// Purge deletes every log file and the chain state, and drops queued events.
func (l *Logger) Purge() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = nil
	l.sequence = 0
	l.prevHash = genesis

	files, err := l.logFiles()
	if err != nil {
		return err
	}
	files = append(files, filepath.Join(l.path, metaFile))
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("audit: failed to remove %s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

func (l *Logger) newEvent(op, result, entryID, errMsg string, ctx map[string]any) Event {
	return Event{
		Version:   1,
		ID:        uuid.NewString(),
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		Entry:     entryID, // replaced by its HMAC in append
		Session:   l.sessionID,
		Result:    result,
		Error:     errMsg,
		Context:   ctx,
	}
}

// append links, signs and writes one event. Caller holds l.mu.
func (l *Logger) append(event *Event, rotation bool) error {
	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := l.checkDiskSpace(); err != nil {
		return err
	}

	if event.Entry != "" {
		mac := hmac.New(sha256.New, l.hmacKey)
		mac.Write([]byte(event.Entry))
		event.Entry = hex.EncodeToString(mac.Sum(nil))
	}

	l.sequence++
	event.Chain.Sequence = l.sequence
	event.Chain.PrevHash = l.prevHash
	if rotation {
		event.Chain.PrevHash = genesis
	}
	event.Chain.HMAC = l.sign(event)
	l.prevHash = event.Chain.HMAC

	if err := l.writeEvent(event); err != nil {
		return err
	}
	return l.saveChainState()
}

func (l *Logger) sign(event *Event) string {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write(recordData(event))
	return hex.EncodeToString(mac.Sum(nil))
}

// recordData serializes every significant field for signing. Context keys
// are sorted so the result is deterministic.
func recordData(event *Event) []byte {
	var ctx strings.Builder
	keys := make([]string, 0, len(event.Context))
	for k := range event.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&ctx, "%s=%v|", k, event.Context[k])
	}

	return []byte(fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.Entry,
		event.Session,
		event.Result,
		event.Error,
		ctx.String(),
		event.Chain.Sequence,
		event.Chain.PrevHash,
	))
}

func (l *Logger) writeEvent(event *Event) error {
	ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
	if err != nil {
		ts = l.now().UTC()
	}
	name := filepath.Join(l.path, ts.Format("2006-01")+".jsonl")

	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func deriveKey(vaultKey []byte) ([]byte, error) {
	if len(vaultKey) == 0 {
		return nil, fmt.Errorf("audit: empty vault key")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, vaultKey, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	return key, nil
}

// fingerprint identifies the current key without revealing it.
func (l *Logger) fingerprint() string {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write([]byte(fingerprint))
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

func (l *Logger) loadChainState() (*chainState, error) {
	data, err := os.ReadFile(filepath.Join(l.path, metaFile))
	if err != nil {
		return nil, err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{
		Sequence:    l.sequence,
		PrevHash:    l.prevHash,
		Fingerprint: l.fingerprint(),
	})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}

	path := filepath.Join(l.path, metaFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// lastSequence scans the log for the highest sequence number. Used when the
// chain state file is damaged.
func (l *Logger) lastSequence() int64 {
	events, err := l.readAll()
	if err != nil || len(events) == 0 {
		return 0
	}
	return events[len(events)-1].Chain.Sequence
}

func (l *Logger) logFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM names sort chronologically.
	sort.Strings(files)
	return files, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := l.logFiles()
	if err != nil {
		return nil, err
	}
	var all []Event
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", filepath.Base(file), err)
		}
		all = append(all, events...)
	}
	return all, nil
}

func readLogFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	for i, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		events = append(events, event)
	}
	return events, nil
}
