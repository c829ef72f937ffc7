package sync

import (
	"context"
	"errors"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/models"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/pending"
)

// =====================================================
// Test doubles
// =====================================================

type mockGateway struct {
	mu        stdsync.Mutex
	uploads   []string
	inserts   []map[string]interface{}
	deletes   []string
	uploadErr error
	deleteErr error
	insertErr func(payload map[string]interface{}) error
	onInsert  func()
}

func (g *mockGateway) UploadBlob(ctx context.Context, path string, data []byte, mimeType string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.uploadErr != nil {
		return "", g.uploadErr
	}
	g.uploads = append(g.uploads, path)
	return "https://cdn.example.com/" + path, nil
}

func (g *mockGateway) InsertRow(ctx context.Context, table string, payload map[string]interface{}) (map[string]interface{}, error) {
	if g.onInsert != nil {
		g.onInsert()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.insertErr != nil {
		if err := g.insertErr(payload); err != nil {
			return nil, err
		}
	}
	g.inserts = append(g.inserts, payload)
	return payload, nil
}

func (g *mockGateway) DeleteBlob(ctx context.Context, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletes = append(g.deletes, path)
	return g.deleteErr
}

func (g *mockGateway) uploadCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.uploads)
}

func (g *mockGateway) insertCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inserts)
}

type fakeConnectivity struct {
	online atomic.Bool
}

func newFakeConnectivity(online bool) *fakeConnectivity {
	c := &fakeConnectivity{}
	c.online.Store(online)
	return c
}

func (c *fakeConnectivity) IsOnline() bool {
	return c.online.Load()
}

type recordingNotifier struct {
	mu   stdsync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

func (n *recordingNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

type testEventHandler struct {
	mu     stdsync.Mutex
	events []SyncEvent
}

func (h *testEventHandler) OnSyncEvent(event SyncEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

type brokenStore struct {
	PendingStore
}

func (brokenStore) ListPending(ctx context.Context) ([]*models.PendingSurvey, error) {
	return nil, apperrors.Wrap(apperrors.ErrStorageFault, "failed to list pending surveys", errors.New("disk I/O error"))
}

func newTestOrchestrator(t *testing.T, online bool) (*Orchestrator, *pending.MemoryStore, *mockGateway, *fakeConnectivity, *recordingNotifier) {
	t.Helper()
	store := pending.NewMemoryStore()
	gw := &mockGateway{}
	conn := newFakeConnectivity(online)
	notifier := &recordingNotifier{}
	o := NewOrchestrator(store, gw, conn, Options{})
	o.SetNotifier(notifier)
	return o, store, gw, conn, notifier
}

func saveSurvey(t *testing.T, store pending.Store, data models.FormData, photo *models.PhotoBlob) string {
	t.Helper()
	id, err := store.Save(context.Background(), data, photo)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return id
}

func pendingCount(t *testing.T, store pending.Store) int {
	t.Helper()
	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	return n
}

// =====================================================
// Pass outcome tests
// =====================================================

func TestSynchronizeAll_emptyQueue(t *testing.T) {
	o, _, gw, _, notifier := newTestOrchestrator(t, true)

	result, err := o.SynchronizeAll(context.Background())
	if err != nil {
		t.Fatalf("SynchronizeAll() error = %v", err)
	}
	if result.Outcome != OutcomeEmpty || result.Total != 0 {
		t.Errorf("result = %+v, want empty", result)
	}
	if gw.insertCount() != 0 {
		t.Error("gateway should not be called for an empty queue")
	}
	if n := len(notifier.all()); n != 0 {
		t.Errorf("got %d notifications, want none for an empty queue", n)
	}
}

func TestSynchronizeAll_offlineFailsFast(t *testing.T) {
	o, store, gw, _, notifier := newTestOrchestrator(t, false)
	saveSurvey(t, store, models.FormData{"property_id": "p-1"}, nil)

	result, err := o.SynchronizeAll(context.Background())
	if !apperrors.Is(err, apperrors.ErrConnectivityUnavailable) {
		t.Fatalf("error = %v, want CONNECTIVITY_UNAVAILABLE", err)
	}
	if result.Outcome != OutcomeOffline {
		t.Errorf("Outcome = %s, want offline", result.Outcome)
	}
	if gw.insertCount() != 0 || gw.uploadCount() != 0 {
		t.Error("no remote call should be made while offline")
	}
	if pendingCount(t, store) != 1 {
		t.Error("pending survey should be untouched while offline")
	}
	sent := notifier.all()
	if len(sent) != 1 || sent[0].Severity != SeverityError {
		t.Errorf("notifications = %+v, want one error", sent)
	}
}

func TestSynchronizeAll_allSucceedWithPhoto(t *testing.T) {
	o, store, gw, _, notifier := newTestOrchestrator(t, true)
	withPhoto := saveSurvey(t, store, models.FormData{"property_id": "p-1", "area": 120.5},
		&models.PhotoBlob{Data: []byte("jpeg-bytes"), MimeType: "image/jpeg"})
	saveSurvey(t, store, models.FormData{"property_id": "p-2"}, nil)

	result, err := o.SynchronizeAll(context.Background())
	if err != nil {
		t.Fatalf("SynchronizeAll() error = %v", err)
	}
	if result.Total != 2 || result.SuccessCount != 2 || result.FailureCount != 0 {
		t.Errorf("result = %+v, want 2 succeeded", result)
	}
	if result.Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %s, want success", result.Outcome)
	}
	if pendingCount(t, store) != 0 {
		t.Error("synced surveys should be removed from the store")
	}

	if gw.uploadCount() != 1 {
		t.Fatalf("uploads = %d, want 1", gw.uploadCount())
	}
	wantPath := "surveys/" + withPhoto + ".jpg"
	if gw.uploads[0] != wantPath {
		t.Errorf("upload path = %q, want %q", gw.uploads[0], wantPath)
	}

	var photoRow map[string]interface{}
	for _, row := range gw.inserts {
		if row[LocalIDField] == withPhoto {
			photoRow = row
		}
	}
	if photoRow == nil {
		t.Fatal("row for the photo survey was not inserted")
	}
	if photoRow["photo_url"] != "https://cdn.example.com/"+wantPath {
		t.Errorf("photo_url = %v", photoRow["photo_url"])
	}
	if photoRow["area"] != 120.5 {
		t.Errorf("form fields should be carried over, got %v", photoRow)
	}

	sent := notifier.all()
	if len(sent) != 1 {
		t.Fatalf("got %d notifications, want exactly 1", len(sent))
	}
	if sent[0].Severity != SeveritySuccess || sent[0].Succeeded != 2 {
		t.Errorf("notification = %+v", sent[0])
	}
	if o.LastSync() == nil {
		t.Error("LastSync should be set after accepted records")
	}
}

func TestSynchronizeAll_payloadDoesNotMutateStoredForm(t *testing.T) {
	store := pending.NewMemoryStore()
	gw := &mockGateway{insertErr: func(map[string]interface{}) error { return errors.New("connection reset") }}
	o := NewOrchestrator(store, gw, newFakeConnectivity(true), Options{})
	id := saveSurvey(t, store, models.FormData{"property_id": "p-1"}, nil)

	if _, err := o.SynchronizeAll(context.Background()); err != nil {
		t.Fatalf("SynchronizeAll() error = %v", err)
	}

	got, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, ok := got.FormData[LocalIDField]; ok {
		t.Error("stored form data should not gain local_id")
	}
}

func TestSynchronizeAll_partialFailureIsRetained(t *testing.T) {
	o, store, gw, _, notifier := newTestOrchestrator(t, true)
	saveSurvey(t, store, models.FormData{"property_id": "ok"}, nil)
	failing := saveSurvey(t, store, models.FormData{"property_id": "flaky"}, nil)
	gw.insertErr = func(payload map[string]interface{}) error {
		if payload["property_id"] == "flaky" {
			return errors.New("connection reset by peer")
		}
		return nil
	}

	result, err := o.SynchronizeAll(context.Background())
	if err != nil {
		t.Fatalf("SynchronizeAll() error = %v", err)
	}
	if result.SuccessCount != 1 || result.FailureCount != 1 || result.Quarantined != 0 {
		t.Errorf("result = %+v, want 1 succeeded and 1 failed", result)
	}
	if result.Outcome != OutcomePartial {
		t.Errorf("Outcome = %s, want partial", result.Outcome)
	}

	left, err := store.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(left) != 1 || left[0].ID != failing {
		t.Fatalf("pending = %v, want only the failed survey", left)
	}
	if left[0].AttemptCount != 1 || !strings.Contains(left[0].LastError, "connection reset") {
		t.Errorf("attempt bookkeeping = %d %q", left[0].AttemptCount, left[0].LastError)
	}

	sent := notifier.all()
	if len(sent) != 1 || sent[0].Severity != SeverityWarning {
		t.Errorf("notifications = %+v, want one warning", sent)
	}
	if len(o.ErrorHistory()) != 1 {
		t.Errorf("ErrorHistory = %v, want 1 entry", o.ErrorHistory())
	}
}

func TestSynchronizeAll_uploadFailureSkipsInsert(t *testing.T) {
	o, store, gw, _, _ := newTestOrchestrator(t, true)
	gw.uploadErr = errors.New("i/o timeout")
	saveSurvey(t, store, models.FormData{"property_id": "p-1"}, &models.PhotoBlob{Data: []byte{1, 2}, MimeType: "image/png"})

	result, err := o.SynchronizeAll(context.Background())
	if err != nil {
		t.Fatalf("SynchronizeAll() error = %v", err)
	}
	if result.FailureCount != 1 || result.Outcome != OutcomeFailed {
		t.Errorf("result = %+v, want failed", result)
	}
	if gw.insertCount() != 0 {
		t.Error("row must not be inserted when the photo upload fails")
	}
	if pendingCount(t, store) != 1 {
		t.Error("survey should stay pending after an upload failure")
	}
	history := o.ErrorHistory()
	if len(history) != 1 || history[0].Code != string(apperrors.ErrUploadFailed) {
		t.Errorf("ErrorHistory = %+v", history)
	}
}

func TestSynchronizeAll_malformedRecordIsQuarantined(t *testing.T) {
	o, store, gw, _, notifier := newTestOrchestrator(t, true)
	bad := saveSurvey(t, store, models.FormData{"owner": "Maria"}, nil)

	result, err := o.SynchronizeAll(context.Background())
	if err != nil {
		t.Fatalf("SynchronizeAll() error = %v", err)
	}
	if result.FailureCount != 1 || result.Quarantined != 1 {
		t.Errorf("result = %+v, want 1 quarantined", result)
	}
	if gw.insertCount() != 0 {
		t.Error("malformed survey must not reach the gateway")
	}
	if pendingCount(t, store) != 0 {
		t.Error("quarantined survey should leave the pending set")
	}
	failed, err := store.ListFailed(context.Background())
	if err != nil {
		t.Fatalf("ListFailed() error = %v", err)
	}
	if len(failed) != 1 || failed[0].ID != bad {
		t.Fatalf("failed = %v, want the malformed survey", failed)
	}
	if !strings.Contains(failed[0].Reason, "property_id") {
		t.Errorf("Reason = %q, want missing field named", failed[0].Reason)
	}
	if sent := notifier.all(); len(sent) != 1 || !strings.Contains(sent[0].Message, "revisão") {
		t.Errorf("notifications = %+v", sent)
	}
}

func TestSynchronizeAll_terminalRemoteErrorIsQuarantined(t *testing.T) {
	o, store, gw, _, _ := newTestOrchestrator(t, true)
	gw.insertErr = func(map[string]interface{}) error {
		return apperrors.NewTerminal(apperrors.ErrValidation, "column \"areaa\" does not exist")
	}
	saveSurvey(t, store, models.FormData{"property_id": "p-1"}, nil)

	result, _ := o.SynchronizeAll(context.Background())
	if result.Quarantined != 1 {
		t.Errorf("Quarantined = %d, want 1", result.Quarantined)
	}
	if pendingCount(t, store) != 0 {
		t.Error("terminal rejection should not be retried")
	}
}

func TestSynchronizeAll_duplicateCountsAsSuccess(t *testing.T) {
	o, store, gw, _, _ := newTestOrchestrator(t, true)
	gw.insertErr = func(map[string]interface{}) error {
		return apperrors.New(apperrors.ErrDuplicate, "local_id already exists")
	}
	saveSurvey(t, store, models.FormData{"property_id": "p-1"}, nil)

	result, err := o.SynchronizeAll(context.Background())
	if err != nil {
		t.Fatalf("SynchronizeAll() error = %v", err)
	}
	if result.SuccessCount != 1 || result.FailureCount != 0 {
		t.Errorf("result = %+v, want duplicate treated as success", result)
	}
	if pendingCount(t, store) != 0 {
		t.Error("duplicate survey should be removed locally")
	}
}

func TestSynchronizeAll_uniqueViolationOnOtherColumnIsQuarantined(t *testing.T) {
	o, store, gw, _, _ := newTestOrchestrator(t, true)
	gw.insertErr = func(map[string]interface{}) error {
		return apperrors.NewTerminal(apperrors.ErrSubmissionFailed, "row rejected: unique constraint \"surveys_property_id_key\"")
	}
	id := saveSurvey(t, store, models.FormData{"property_id": "p-1"}, nil)

	result, _ := o.SynchronizeAll(context.Background())
	if result.SuccessCount != 0 || result.Quarantined != 1 {
		t.Errorf("result = %+v, want 0 succeeded and 1 quarantined", result)
	}
	if gw.insertCount() != 0 {
		t.Errorf("inserts = %d, want 0", gw.insertCount())
	}
	if pendingCount(t, store) != 0 {
		t.Error("rejected survey should leave the pending queue")
	}
	failed, err := store.ListFailed(context.Background())
	if err != nil {
		t.Fatalf("ListFailed() error = %v", err)
	}
	if len(failed) != 1 || failed[0].ID != id {
		t.Fatalf("failed = %+v, want survey %s kept for review", failed, id)
	}
}

func TestSynchronizeAll_retryReusesPhotoPath(t *testing.T) {
	o, store, gw, _, _ := newTestOrchestrator(t, true)
	gw.insertErr = func(map[string]interface{}) error { return errors.New("connection reset") }
	id := saveSurvey(t, store, models.FormData{"property_id": "p-1"},
		&models.PhotoBlob{Data: []byte("jpeg-bytes"), MimeType: "image/jpeg"})

	first, _ := o.SynchronizeAll(context.Background())
	if first.FailureCount != 1 || first.SuccessCount != 0 {
		t.Fatalf("first pass = %+v, want 1 failure", first)
	}
	if pendingCount(t, store) != 1 {
		t.Fatal("failed survey should stay pending")
	}

	gw.mu.Lock()
	gw.insertErr = nil
	gw.mu.Unlock()

	second, err := o.SynchronizeAll(context.Background())
	if err != nil {
		t.Fatalf("second SynchronizeAll() error = %v", err)
	}
	if second.SuccessCount != 1 {
		t.Fatalf("second pass = %+v, want 1 success", second)
	}

	wantPath := "surveys/" + id + ".jpg"
	if gw.uploadCount() != 2 {
		t.Fatalf("uploads = %d, want one per pass", gw.uploadCount())
	}
	for i, p := range gw.uploads {
		if p != wantPath {
			t.Errorf("upload %d path = %q, want %q", i, p, wantPath)
		}
	}
	if gw.insertCount() != 1 {
		t.Fatalf("inserts = %d, want 1", gw.insertCount())
	}
	if got := gw.inserts[0]["photo_url"]; got != "https://cdn.example.com/"+wantPath {
		t.Errorf("photo_url = %v", got)
	}
	if pendingCount(t, store) != 0 {
		t.Error("survey should be removed after the retry succeeds")
	}
}

// =====================================================
// Discard tests
// =====================================================

// jpegPreparer re-encodes every photo as JPEG.
type jpegPreparer struct{}

func (jpegPreparer) Prepare(p *models.PhotoBlob) (*models.PhotoBlob, error) {
	return &models.PhotoBlob{Data: p.Data, MimeType: "image/jpeg"}, nil
}

func TestDiscardFailed_removesUploadedPhoto(t *testing.T) {
	o, store, gw, _, _ := newTestOrchestrator(t, true)
	gw.insertErr = func(map[string]interface{}) error {
		return apperrors.NewTerminal(apperrors.ErrSubmissionFailed, "row rejected")
	}
	id := saveSurvey(t, store, models.FormData{"property_id": "p-1"},
		&models.PhotoBlob{Data: []byte("jpeg-bytes"), MimeType: "image/jpeg"})

	if result, _ := o.SynchronizeAll(context.Background()); result.Quarantined != 1 {
		t.Fatalf("result = %+v, want the survey quarantined", result)
	}
	if gw.uploadCount() != 1 {
		t.Fatalf("uploads = %d, want 1", gw.uploadCount())
	}

	if err := o.DiscardFailed(context.Background(), id); err != nil {
		t.Fatalf("DiscardFailed() error = %v", err)
	}
	if len(gw.deletes) != 1 || gw.deletes[0] != gw.uploads[0] {
		t.Errorf("deletes = %v, want %v", gw.deletes, gw.uploads)
	}
	failed, _ := store.ListFailed(context.Background())
	if len(failed) != 0 {
		t.Errorf("failed = %d, want 0 after discard", len(failed))
	}
}

func TestDiscardFailed_preparedPhotoPath(t *testing.T) {
	o, store, gw, _, _ := newTestOrchestrator(t, true)
	o.SetPhotoPreparer(jpegPreparer{})
	id := saveSurvey(t, store, models.FormData{"property_id": "p-1"},
		&models.PhotoBlob{Data: []byte("png-bytes"), MimeType: "image/png"})
	if err := store.Quarantine(context.Background(), id, "bad column"); err != nil {
		t.Fatal(err)
	}

	if err := o.DiscardFailed(context.Background(), id); err != nil {
		t.Fatalf("DiscardFailed() error = %v", err)
	}
	want := []string{"surveys/" + id + ".png", "surveys/" + id + ".jpg"}
	if len(gw.deletes) != len(want) {
		t.Fatalf("deletes = %v, want %v", gw.deletes, want)
	}
	for i := range want {
		if gw.deletes[i] != want[i] {
			t.Errorf("delete %d = %q, want %q", i, gw.deletes[i], want[i])
		}
	}
}

func TestDiscardFailed_blobErrorIsNotFatal(t *testing.T) {
	o, store, gw, _, _ := newTestOrchestrator(t, true)
	gw.deleteErr = errors.New("access denied")
	id := saveSurvey(t, store, models.FormData{"property_id": "p-1"},
		&models.PhotoBlob{Data: []byte("jpeg-bytes"), MimeType: "image/jpeg"})
	_ = store.Quarantine(context.Background(), id, "bad column")

	if err := o.DiscardFailed(context.Background(), id); err != nil {
		t.Fatalf("DiscardFailed() error = %v, want nil", err)
	}
	if failed, _ := store.ListFailed(context.Background()); len(failed) != 0 {
		t.Error("survey should be discarded locally even when blob removal fails")
	}
}

func TestDiscardFailed_withoutPhotoOrUnknown(t *testing.T) {
	o, store, gw, _, _ := newTestOrchestrator(t, true)
	id := saveSurvey(t, store, models.FormData{"property_id": "p-1"}, nil)
	_ = store.Quarantine(context.Background(), id, "bad column")

	if err := o.DiscardFailed(context.Background(), id); err != nil {
		t.Fatalf("DiscardFailed() error = %v", err)
	}
	if len(gw.deletes) != 0 {
		t.Errorf("deletes = %v, want none for a survey without photo", gw.deletes)
	}
	if err := o.DiscardFailed(context.Background(), "nope"); err != nil {
		t.Errorf("unknown id err = %v, want nil", err)
	}
	if len(gw.deletes) != 0 {
		t.Errorf("deletes = %v, want none for an unknown id", gw.deletes)
	}
}

func TestSynchronizeAll_storageFault(t *testing.T) {
	notifier := &recordingNotifier{}
	o := NewOrchestrator(brokenStore{}, &mockGateway{}, newFakeConnectivity(true), Options{})
	o.SetNotifier(notifier)

	_, err := o.SynchronizeAll(context.Background())
	if !apperrors.Is(err, apperrors.ErrStorageFault) {
		t.Fatalf("error = %v, want STORAGE_FAULT", err)
	}
	if sent := notifier.all(); len(sent) != 1 || sent[0].Severity != SeverityError {
		t.Errorf("notifications = %+v, want one error", sent)
	}
	if o.State() != StateIdle {
		t.Error("state should return to idle after a failed pass")
	}
}

func TestSynchronizeAll_connectivityLossDefersRemainder(t *testing.T) {
	o, store, gw, conn, notifier := newTestOrchestrator(t, true)
	for i := 0; i < 3; i++ {
		saveSurvey(t, store, models.FormData{"property_id": "p"}, nil)
	}
	gw.onInsert = func() { conn.online.Store(false) }

	result, err := o.SynchronizeAll(context.Background())
	if err != nil {
		t.Fatalf("SynchronizeAll() error = %v", err)
	}
	if result.SuccessCount != 1 || result.Deferred != 2 {
		t.Errorf("result = %+v, want 1 succeeded and 2 deferred", result)
	}
	if result.Outcome != OutcomePartial {
		t.Errorf("Outcome = %s, want partial", result.Outcome)
	}
	if pendingCount(t, store) != 2 {
		t.Error("deferred surveys should stay pending")
	}
	left, _ := store.ListPending(context.Background())
	for _, s := range left {
		if s.AttemptCount != 0 {
			t.Errorf("deferred survey %s should not count an attempt", s.ID)
		}
	}
	if sent := notifier.all(); len(sent) != 1 || sent[0].Deferred != 2 {
		t.Errorf("notifications = %+v", sent)
	}
}

// =====================================================
// Concurrency guard tests
// =====================================================

func TestSynchronizeAll_concurrentTriggerIsSkipped(t *testing.T) {
	o, store, gw, _, notifier := newTestOrchestrator(t, true)
	saveSurvey(t, store, models.FormData{"property_id": "p-1"}, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once stdsync.Once
	gw.onInsert = func() {
		once.Do(func() { close(entered) })
		<-release
	}

	done := make(chan *Result)
	go func() {
		r, _ := o.SynchronizeAll(context.Background())
		done <- r
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first pass never reached the gateway")
	}
	if o.State() != StateRunning {
		t.Errorf("State = %s, want running", o.State())
	}

	second, err := o.SynchronizeAll(context.Background())
	if err != nil {
		t.Fatalf("concurrent SynchronizeAll() error = %v", err)
	}
	if !second.Skipped || second.Outcome != OutcomeSkipped {
		t.Errorf("second result = %+v, want skipped", second)
	}

	close(release)
	first := <-done
	if first.SuccessCount != 1 {
		t.Errorf("first result = %+v", first)
	}
	if gw.insertCount() != 1 {
		t.Errorf("inserts = %d, want the survey submitted once", gw.insertCount())
	}
	if n := len(notifier.all()); n != 1 {
		t.Errorf("got %d notifications, want 1 (skipped passes are silent)", n)
	}
	if o.State() != StateIdle {
		t.Errorf("State = %s, want idle", o.State())
	}
}

// =====================================================
// Event and preparer tests
// =====================================================

func TestSynchronizeAll_emitsEvents(t *testing.T) {
	o, store, _, _, _ := newTestOrchestrator(t, true)
	handler := &testEventHandler{}
	o.SetEventHandler(handler)
	saveSurvey(t, store, models.FormData{"property_id": "p-1"}, nil)
	saveSurvey(t, store, models.FormData{"property_id": "p-2"}, nil)

	if _, err := o.SynchronizeAll(context.Background()); err != nil {
		t.Fatalf("SynchronizeAll() error = %v", err)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.events) != 4 {
		t.Fatalf("got %d events, want started + 2 progress + completed", len(handler.events))
	}
	if handler.events[0].Type != SyncEventStarted || handler.events[0].Total != 2 {
		t.Errorf("first event = %+v", handler.events[0])
	}
	last := handler.events[3]
	if last.Type != SyncEventCompleted || last.Result == nil || last.Result.SuccessCount != 2 {
		t.Errorf("last event = %+v", last)
	}
}

type stubPreparer struct {
	err error
}

func (p stubPreparer) Prepare(photo *models.PhotoBlob) (*models.PhotoBlob, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &models.PhotoBlob{Data: []byte("small"), MimeType: "image/jpeg"}, nil
}

func TestSynchronizeAll_photoPreparer(t *testing.T) {
	o, store, gw, _, _ := newTestOrchestrator(t, true)
	o.SetPhotoPreparer(stubPreparer{})
	id := saveSurvey(t, store, models.FormData{"property_id": "p-1"}, &models.PhotoBlob{Data: []byte("big-png"), MimeType: "image/png"})

	if _, err := o.SynchronizeAll(context.Background()); err != nil {
		t.Fatalf("SynchronizeAll() error = %v", err)
	}
	if gw.uploadCount() != 1 || gw.uploads[0] != "surveys/"+id+".jpg" {
		t.Errorf("uploads = %v, want prepared jpeg path", gw.uploads)
	}
}

func TestSynchronizeAll_photoPreparerFailureUploadsOriginal(t *testing.T) {
	o, store, gw, _, _ := newTestOrchestrator(t, true)
	o.SetPhotoPreparer(stubPreparer{err: errors.New("unsupported image")})
	id := saveSurvey(t, store, models.FormData{"property_id": "p-1"}, &models.PhotoBlob{Data: []byte("raw"), MimeType: "image/png"})

	result, _ := o.SynchronizeAll(context.Background())
	if result.SuccessCount != 1 {
		t.Errorf("result = %+v, want success with original photo", result)
	}
	if gw.uploads[0] != "surveys/"+id+".png" {
		t.Errorf("upload path = %q", gw.uploads[0])
	}
}

func TestPhotoPath_unknownMime(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, Options{PhotoPrefix: "fotos"})
	if got := o.photoPath("abc", "application/x-unknown-thing"); got != "fotos/abc.bin" {
		t.Errorf("photoPath = %q, want fotos/abc.bin", got)
	}
}

func TestValidatorCanBeDisabled(t *testing.T) {
	o, store, gw, _, _ := newTestOrchestrator(t, true)
	o.SetValidator(nil)
	saveSurvey(t, store, models.FormData{"anything": true}, nil)

	result, _ := o.SynchronizeAll(context.Background())
	if result.SuccessCount != 1 || gw.insertCount() != 1 {
		t.Errorf("result = %+v, want submission without validation", result)
	}
}
