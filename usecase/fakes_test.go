package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	domainAccount "github.com/marianovz/wa-blast/domains/account"
	domainActivity "github.com/marianovz/wa-blast/domains/activity"
	domainCampaign "github.com/marianovz/wa-blast/domains/campaign"
	"github.com/marianovz/wa-blast/domains/transport"
)

// --- Account repository fake ---

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]domainAccount.Account
	statuses []domainAccount.Status
}

func newFakeAccountRepo(accounts ...domainAccount.Account) *fakeAccountRepo {
	repo := &fakeAccountRepo{accounts: make(map[string]domainAccount.Account)}
	for _, a := range accounts {
		repo.accounts[a.ID] = a
	}
	return repo
}

func (r *fakeAccountRepo) Create(_ context.Context, acc domainAccount.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[acc.ID] = acc
	return nil
}

func (r *fakeAccountRepo) GetByID(_ context.Context, id string) (domainAccount.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return domainAccount.Account{}, errors.New("account not found")
	}
	return acc, nil
}

func (r *fakeAccountRepo) List(_ context.Context) ([]domainAccount.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domainAccount.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (r *fakeAccountRepo) ListByStatusNot(_ context.Context, status domainAccount.Status) ([]domainAccount.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domainAccount.Account
	for _, a := range r.accounts {
		if a.Status != status {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) Update(_ context.Context, id string, fields domainAccount.Fields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return errors.New("account not found")
	}
	if fields.Status != nil {
		acc.Status = *fields.Status
		r.statuses = append(r.statuses, *fields.Status)
	}
	if fields.QRPayload != nil {
		acc.QRPayload = *fields.QRPayload
	}
	if fields.Phone != nil {
		acc.Phone = *fields.Phone
	}
	if fields.PushName != nil {
		acc.PushName = *fields.PushName
	}
	if fields.DeviceID != nil {
		acc.DeviceID = *fields.DeviceID
	}
	if fields.LastConnectAttemptAt != nil {
		acc.LastConnectAttemptAt = fields.LastConnectAttemptAt
	}
	if fields.LastConnectedAt != nil {
		acc.LastConnectedAt = fields.LastConnectedAt
	}
	r.accounts[id] = acc
	return nil
}

func (r *fakeAccountRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
	return nil
}

func (r *fakeAccountRepo) status(id string) domainAccount.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[id].Status
}

func (r *fakeAccountRepo) statusHistory() []domainAccount.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domainAccount.Status, len(r.statuses))
	copy(out, r.statuses)
	return out
}

// --- Activity repository fake ---

type fakeActivityRepo struct {
	mu      sync.Mutex
	entries []domainActivity.Entry
}

func (r *fakeActivityRepo) Append(_ context.Context, accountID, action, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, domainActivity.Entry{
		AccountID:   accountID,
		Action:      action,
		Description: description,
		CreatedAt:   time.Now(),
	})
	return nil
}

func (r *fakeActivityRepo) ListByAccount(_ context.Context, accountID string, _ int) ([]domainActivity.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domainActivity.Entry
	for _, e := range r.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeActivityRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

// --- Transport fakes ---

type fakeHandle struct {
	mu       sync.Mutex
	closed   bool
	loggedOut bool
	sendErr  error
	sent     []string
}

func (h *fakeHandle) Send(_ context.Context, target string, _ transport.Content) (transport.SendReceipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return transport.SendReceipt{}, h.sendErr
	}
	h.sent = append(h.sent, target)
	return transport.SendReceipt{MessageID: "wire-" + target, Timestamp: time.Now()}, nil
}

func (h *fakeHandle) Logout(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loggedOut = true
	return nil
}

func (h *fakeHandle) PairCode(_ context.Context, phone string) (string, error) {
	return "FAKE-CODE-" + phone, nil
}

func (h *fakeHandle) Identity() transport.Identity {
	return transport.Identity{Phone: "5511999990000", PushName: "tester", DeviceID: "dev:1"}
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// loopBoundHandle mimics a transport whose Close waits for in-flight event
// handlers to return. Logout stands in for the moment an event gets
// dispatched while a control operation holds the account state lock.
type loopBoundHandle struct {
	fakeHandle
	dispatch    func()
	handlerDone chan struct{}
}

func (h *loopBoundHandle) Logout(ctx context.Context) error {
	go func() {
		h.dispatch()
		close(h.handlerDone)
	}()
	return h.fakeHandle.Logout(ctx)
}

func (h *loopBoundHandle) Close() {
	<-h.handlerDone
	h.fakeHandle.Close()
}

type purgeCall struct {
	accountID string
	mode      transport.PurgeMode
}

type fakeDialer struct {
	mu       sync.Mutex
	openErr  error
	opens    int
	handles  []*fakeHandle
	purges   []purgeCall
	lastOnEvent func(transport.Event)
}

func (d *fakeDialer) Open(_ context.Context, accountID string, onEvent func(transport.Event)) (transport.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	d.lastOnEvent = onEvent
	if d.openErr != nil {
		return nil, d.openErr
	}
	h := &fakeHandle{}
	d.handles = append(d.handles, h)
	return h, nil
}

func (d *fakeDialer) Purge(accountID string, mode transport.PurgeMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.purges = append(d.purges, purgeCall{accountID: accountID, mode: mode})
	return nil
}

func (d *fakeDialer) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *fakeDialer) purgeModes() []transport.PurgeMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]transport.PurgeMode, len(d.purges))
	for i, p := range d.purges {
		out[i] = p.mode
	}
	return out
}

// --- Registry fake ---

type fakeRegistry struct {
	mu      sync.RWMutex
	handles map[string]transport.Handle
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{handles: make(map[string]transport.Handle)}
}

func (r *fakeRegistry) Get(accountID string) (transport.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[accountID]
	return h, ok
}

func (r *fakeRegistry) Set(accountID string, handle transport.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handles[accountID]; ok && existing != nil && existing != handle {
		go existing.Close()
	}
	r.handles[accountID] = handle
}

func (r *fakeRegistry) Remove(accountID string) transport.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.handles[accountID]
	delete(r.handles, accountID)
	return h
}

func (r *fakeRegistry) Drain() map[string]transport.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	drained := r.handles
	r.handles = make(map[string]transport.Handle)
	return drained
}

func (r *fakeRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// --- Campaign repository fake ---

type fakeCampaignRepo struct {
	mu         sync.Mutex
	campaigns  map[string]domainCampaign.Campaign
	messages   map[string][]domainCampaign.Message
	increments [][2]int

	getCalls  int
	failGetOn int
	getErr    error

	updateMsgCalls  int
	failUpdateMsgOn int
	updateMsgErr    error
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{
		campaigns: make(map[string]domainCampaign.Campaign),
		messages:  make(map[string][]domainCampaign.Message),
	}
}

func (r *fakeCampaignRepo) Create(_ context.Context, c domainCampaign.Campaign, msgs []domainCampaign.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
	r.messages[c.ID] = append([]domainCampaign.Message{}, msgs...)
	return nil
}

// failGetOnCall makes the nth GetByID call (1-based) return err. Later
// calls succeed again so test assertions can still read state.
func (r *fakeCampaignRepo) failGetOnCall(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failGetOn = n
	r.getErr = err
}

func (r *fakeCampaignRepo) GetByID(_ context.Context, id string) (domainCampaign.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	if r.failGetOn > 0 && r.getCalls == r.failGetOn {
		return domainCampaign.Campaign{}, r.getErr
	}
	c, ok := r.campaigns[id]
	if !ok {
		return domainCampaign.Campaign{}, errors.New("campaign not found")
	}
	return c, nil
}

func (r *fakeCampaignRepo) List(_ context.Context) ([]domainCampaign.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domainCampaign.Campaign
	for _, c := range r.campaigns {
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeCampaignRepo) ListDue(_ context.Context, now time.Time) ([]domainCampaign.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domainCampaign.Campaign
	for _, c := range r.campaigns {
		if c.Status == domainCampaign.StatusDraft && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCampaignRepo) Update(_ context.Context, id string, fields domainCampaign.Fields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return errors.New("campaign not found")
	}
	if fields.Status != nil {
		c.Status = *fields.Status
	}
	if fields.CompletedAt != nil {
		c.CompletedAt = fields.CompletedAt
	}
	r.campaigns[id] = c
	return nil
}

func (r *fakeCampaignRepo) IncrementCounters(_ context.Context, id string, sent, failed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return errors.New("campaign not found")
	}
	c.SentCount += sent
	c.FailedCount += failed
	r.campaigns[id] = c
	r.increments = append(r.increments, [2]int{sent, failed})
	return nil
}

func (r *fakeCampaignRepo) ListMessages(_ context.Context, campaignID string, status domainCampaign.MessageStatus) ([]domainCampaign.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domainCampaign.Message
	for _, m := range r.messages[campaignID] {
		if status == "" || m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeCampaignRepo) CountMessages(_ context.Context, campaignID string, status domainCampaign.MessageStatus) (int64, error) {
	msgs, _ := r.ListMessages(context.Background(), campaignID, status)
	return int64(len(msgs)), nil
}

// failUpdateMessageOnCall makes the nth UpdateMessage call (1-based) return
// err. Later calls succeed again so test assertions can still read state.
func (r *fakeCampaignRepo) failUpdateMessageOnCall(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failUpdateMsgOn = n
	r.updateMsgErr = err
}

func (r *fakeCampaignRepo) UpdateMessage(_ context.Context, id string, fields domainCampaign.MessageFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateMsgCalls++
	if r.failUpdateMsgOn > 0 && r.updateMsgCalls == r.failUpdateMsgOn {
		return r.updateMsgErr
	}
	for campaignID, msgs := range r.messages {
		for i, m := range msgs {
			if m.ID != id {
				continue
			}
			if fields.Status != nil {
				m.Status = *fields.Status
			}
			if fields.Error != nil {
				m.Error = *fields.Error
			}
			if fields.WireID != nil {
				m.WireID = *fields.WireID
			}
			if fields.SentAt != nil {
				m.SentAt = fields.SentAt
			}
			r.messages[campaignID][i] = m
			return nil
		}
	}
	return errors.New("campaign message not found")
}

func (r *fakeCampaignRepo) UpdateMessageStatusByWireID(_ context.Context, wireIDs []string, status domainCampaign.MessageStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for campaignID, msgs := range r.messages {
		for i, m := range msgs {
			for _, id := range wireIDs {
				if m.WireID == id {
					m.Status = status
					r.messages[campaignID][i] = m
				}
			}
		}
	}
	return nil
}

func (r *fakeCampaignRepo) Stats(_ context.Context, campaignID string) (domainCampaign.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stats domainCampaign.Stats
	for _, m := range r.messages[campaignID] {
		stats.Total++
		switch m.Status {
		case domainCampaign.MessagePending:
			stats.Pending++
		case domainCampaign.MessageSent:
			stats.Sent++
		case domainCampaign.MessageFailed:
			stats.Failed++
		case domainCampaign.MessageDelivered:
			stats.Delivered++
		case domainCampaign.MessageRead:
			stats.Read++
		}
	}
	return stats, nil
}

func (r *fakeCampaignRepo) messageStatuses(campaignID string) []domainCampaign.MessageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domainCampaign.MessageStatus, len(r.messages[campaignID]))
	for i, m := range r.messages[campaignID] {
		out[i] = m.Status
	}
	return out
}
