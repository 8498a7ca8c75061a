package services

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexuschat/nexus/internal/common"
	"github.com/nexuschat/nexus/internal/dbx"
	"github.com/nexuschat/nexus/internal/server/mailer"
	"github.com/nexuschat/nexus/internal/server/models"
	"github.com/nexuschat/nexus/internal/server/repositories/attachments"
	"github.com/nexuschat/nexus/internal/server/repositories/conversations"
	"github.com/nexuschat/nexus/internal/server/repositories/messages"
	"github.com/nexuschat/nexus/internal/server/repositories/otps"
	"github.com/nexuschat/nexus/internal/server/repositories/refreshtokens"
	"github.com/nexuschat/nexus/internal/server/repositories/users"
)

var errBoom = errors.New("boom")

// memState is the whole fake database. Values, not pointers, so a copy is a
// snapshot.
type memState struct {
	users    map[string]models.User // by email
	tokens   map[string]models.RefreshToken
	otps     []models.OTPVerification
	convs    map[string]models.Conversation
	messages []models.Message
	atts     map[string]models.Attachment
}

func (s memState) clone() memState {
	c := memState{
		users:    make(map[string]models.User, len(s.users)),
		tokens:   make(map[string]models.RefreshToken, len(s.tokens)),
		otps:     slices.Clone(s.otps),
		convs:    make(map[string]models.Conversation, len(s.convs)),
		messages: slices.Clone(s.messages),
		atts:     make(map[string]models.Attachment, len(s.atts)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.convs {
		c.convs[k] = v
	}
	for k, v := range s.atts {
		c.atts[k] = v
	}
	return c
}

// memDB implements both repomanager.RepositoryManager and dbx.Transactor.
// Transactions run one at a time and roll back by restoring a snapshot, so
// it behaves like a serializable database.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   memState

	// failOn makes the named repo operation return errBoom.
	failOn map[string]bool
	now    func() time.Time
}

func newMemDB() *memDB {
	return &memDB{
		st:     memState{}.clone(),
		failOn: map[string]bool{},
		now:    time.Now,
	}
}

func (m *memDB) fail(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn[op] {
		return errBoom
	}
	return nil
}

func (m *memDB) setFail(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[op] = true
}

func (m *memDB) WithTx(ctx context.Context, fn dbx.TxFunc) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.st.clone()
	m.mu.Unlock()

	if err := fn(ctx, nil); err != nil {
		m.mu.Lock()
		m.st = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memDB) Conn() dbx.DBTX { return nil }

func (m *memDB) RunMigrations(context.Context, *sql.DB) error    { return nil }
func (m *memDB) Users(dbx.DBTX) users.Repository                 { return memUsers{m} }
func (m *memDB) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return memTokens{m} }
func (m *memDB) OTPs(dbx.DBTX) otps.Repository                   { return memOTPs{m} }
func (m *memDB) Conversations(dbx.DBTX) conversations.Repository { return memConvs{m} }
func (m *memDB) Messages(dbx.DBTX) messages.Repository           { return memMessages{m} }
func (m *memDB) Attachments(dbx.DBTX) attachments.Repository     { return memAtts{m} }

// --- inspection helpers ---

func (m *memDB) user(email string) (models.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.st.users[email]
	return u, ok
}

func (m *memDB) tokenRows() []models.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RefreshToken, 0, len(m.st.tokens))
	for _, t := range m.st.tokens {
		out = append(out, t)
	}
	return out
}

func (m *memDB) otpRows() []models.OTPVerification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.st.otps)
}

func (m *memDB) messageRows() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.st.messages)
}

// --- users ---

type memUsers struct{ m *memDB }

func (r memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	if err := r.m.fail("users.Create"); err != nil {
		return nil, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.st.users[u.Email]; ok {
		return nil, common.ErrorAlreadyExists
	}
	u.ID = models.NewUserID()
	u.CreatedAt = r.m.now()
	r.m.st.users[u.Email] = *u
	return u, nil
}

func (r memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	if err := r.m.fail("users.GetByEmail"); err != nil {
		return nil, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.st.users[email]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &u, nil
}

func (r memUsers) GetByID(_ context.Context, id models.UserID) (*models.User, error) {
	if err := r.m.fail("users.GetByID"); err != nil {
		return nil, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.st.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memUsers) UpdatePassword(_ context.Context, id models.UserID, hashed string) error {
	if err := r.m.fail("users.UpdatePassword"); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for k, u := range r.m.st.users {
		if u.ID == id {
			u.HashedPassword = hashed
			r.m.st.users[k] = u
			return nil
		}
	}
	return common.ErrorNotFound
}

// --- refresh tokens ---

type memTokens struct{ m *memDB }

func (r memTokens) Create(_ context.Context, userID models.UserID, hash string, expiresAt time.Time) error {
	if err := r.m.fail("tokens.Create"); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.st.tokens[hash]; ok {
		return common.ErrorAlreadyExists
	}
	r.m.st.tokens[hash] = models.RefreshToken{
		ID: uuid.NewString(), UserID: userID, TokenHash: hash, ExpiresAt: expiresAt, CreatedAt: r.m.now(),
	}
	return nil
}

func (r memTokens) RevokeActive(_ context.Context, hash string, now time.Time) (models.UserID, error) {
	if err := r.m.fail("tokens.RevokeActive"); err != nil {
		return models.UserID{}, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.st.tokens[hash]
	if !ok || t.IsRevoked || !t.ExpiresAt.After(now) {
		return models.UserID{}, common.ErrorNotFound
	}
	t.IsRevoked = true
	r.m.st.tokens[hash] = t
	return t.UserID, nil
}

func (r memTokens) RevokeAllForUser(_ context.Context, userID models.UserID) (int64, error) {
	if err := r.m.fail("tokens.RevokeAllForUser"); err != nil {
		return 0, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for k, t := range r.m.st.tokens {
		if t.UserID == userID && !t.IsRevoked {
			t.IsRevoked = true
			r.m.st.tokens[k] = t
			n++
		}
	}
	return n, nil
}

func (r memTokens) Find(_ context.Context, hash string) (*models.RefreshToken, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.st.tokens[hash]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &t, nil
}

// --- otps ---

type memOTPs struct{ m *memDB }

func (r memOTPs) LockEmail(context.Context, string) error {
	return r.m.fail("otps.LockEmail")
}

func (r memOTPs) HasPending(_ context.Context, email string, now time.Time) (bool, error) {
	if err := r.m.fail("otps.HasPending"); err != nil {
		return false, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, o := range r.m.st.otps {
		if o.Email == email && !o.IsUsed && o.ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (r memOTPs) Create(_ context.Context, o *models.OTPVerification) error {
	if err := r.m.fail("otps.Create"); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o.ID = uuid.NewString()
	r.m.st.otps = append(r.m.st.otps, *o)
	return nil
}

func (r memOTPs) Consume(_ context.Context, email, code string, purpose models.OTPPurpose, now time.Time) (*models.OTPVerification, error) {
	if err := r.m.fail("otps.Consume"); err != nil {
		return nil, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	idx := -1
	for i, o := range r.m.st.otps {
		if o.Email == email && o.Code == code && o.Purpose == purpose && !o.IsUsed && o.ExpiresAt.After(now) {
			if idx == -1 || o.CreatedAt.After(r.m.st.otps[idx].CreatedAt) {
				idx = i
			}
		}
	}
	if idx == -1 {
		return nil, common.ErrorNotFound
	}
	r.m.st.otps[idx].IsUsed = true
	o := r.m.st.otps[idx]
	return &o, nil
}

func (r memOTPs) DeleteUsedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	kept := r.m.st.otps[:0]
	var n int64
	for _, o := range r.m.st.otps {
		if o.IsUsed && o.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, o)
	}
	r.m.st.otps = kept
	return n, nil
}

// --- conversations ---

type memConvs struct{ m *memDB }

func (r memConvs) Create(_ context.Context, c *models.Conversation) error {
	if err := r.m.fail("convs.Create"); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c.ID = uuid.NewString()
	c.CreatedAt = r.m.now()
	c.UpdatedAt = c.CreatedAt
	r.m.st.convs[c.ID] = *c
	return nil
}

func (r memConvs) ListByUser(_ context.Context, userID models.UserID) ([]*models.Conversation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Conversation
	for _, c := range r.m.st.convs {
		if c.UserID == userID {
			c := c
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *models.Conversation) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

func (r memConvs) GetOwned(_ context.Context, id string, userID models.UserID) (*models.Conversation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.st.convs[id]
	if !ok || c.UserID != userID {
		return nil, common.ErrorNotFound
	}
	return &c, nil
}

func (r memConvs) Touch(_ context.Context, id string, at time.Time) error {
	if err := r.m.fail("convs.Touch"); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.st.convs[id]
	if ok {
		c.UpdatedAt = at
		r.m.st.convs[id] = c
	}
	return nil
}

func (r memConvs) Delete(_ context.Context, id string, userID models.UserID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.st.convs[id]
	if !ok || c.UserID != userID {
		return common.ErrorNotFound
	}
	delete(r.m.st.convs, id)
	r.m.st.messages = slices.DeleteFunc(r.m.st.messages, func(m models.Message) bool { return m.ConversationID == id })
	for k, a := range r.m.st.atts {
		if a.ConversationID == id {
			delete(r.m.st.atts, k)
		}
	}
	return nil
}

// --- messages ---

type memMessages struct{ m *memDB }

func (r memMessages) Create(_ context.Context, msg *models.Message) error {
	if err := r.m.fail("messages.Create"); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	msg.ID = uuid.NewString()
	r.m.st.messages = append(r.m.st.messages, *msg)
	return nil
}

func (r memMessages) ListByConversation(_ context.Context, id string) ([]*models.Message, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Message
	for _, msg := range r.m.st.messages {
		if msg.ConversationID == id {
			msg := msg
			out = append(out, &msg)
		}
	}
	slices.SortStableFunc(out, func(a, b *models.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r memMessages) Recent(ctx context.Context, id string, limit int) ([]*models.Message, error) {
	all, _ := r.ListByConversation(ctx, id)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// --- attachments ---

type memAtts struct{ m *memDB }

func (r memAtts) Create(_ context.Context, a *models.Attachment) error {
	if err := r.m.fail("atts.Create"); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a.ID = uuid.NewString()
	a.CreatedAt = r.m.now()
	r.m.st.atts[a.ID] = *a
	return nil
}

func (r memAtts) GetOwned(_ context.Context, id string, userID models.UserID) (*models.Attachment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.st.atts[id]
	if !ok || a.UserID != userID {
		return nil, common.ErrorNotFound
	}
	return &a, nil
}

func (r memAtts) ListByConversation(_ context.Context, id string) ([]*models.Attachment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Attachment
	for _, a := range r.m.st.atts {
		if a.ConversationID == id {
			a := a
			out = append(out, &a)
		}
	}
	return out, nil
}

// --- mail ---

type capturedMail struct {
	mu   sync.Mutex
	msgs []mailer.OTPMessage
}

func (c *capturedMail) Dispatch(_ context.Context, msg mailer.OTPMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *capturedMail) Close(context.Context) error { return nil }

func (c *capturedMail) sent() []mailer.OTPMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.msgs)
}

// clock is a settable time source shared by services and the fake store.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
