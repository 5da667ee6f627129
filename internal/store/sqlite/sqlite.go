// Package sqlite implements the signaling store on an embedded SQLite
// database and publishes every committed change to a store.Notifier.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BioHazard786/warpcall/internal/store"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id          TEXT PRIMARY KEY,
	offer_sdp   TEXT,
	offer_type  TEXT,
	answer_sdp  TEXT,
	answer_type TEXT,
	created_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS offer_candidates (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id           TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
	candidate         TEXT NOT NULL,
	sdp_mline_index   INTEGER,
	sdp_mid           TEXT,
	username_fragment TEXT
);
CREATE INDEX IF NOT EXISTS offer_candidates_call ON offer_candidates(call_id, id);
CREATE TABLE IF NOT EXISTS answer_candidates (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id           TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
	candidate         TEXT NOT NULL,
	sdp_mline_index   INTEGER,
	sdp_mid           TEXT,
	username_fragment TEXT
);
CREATE INDEX IF NOT EXISTS answer_candidates_call ON answer_candidates(call_id, id);
`

// maxIDAttempts bounds call id generation when words collide.
const maxIDAttempts = 16

// DB is a store.Store backed by SQLite.
type DB struct {
	db       *sql.DB
	path     string
	notifier *store.Notifier

	// mu serializes writes so notifications are published in commit order.
	mu sync.RWMutex
}

var _ store.Store = (*DB)(nil)

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	// PRAGMA foreign_keys is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	n := store.NewNotifier()
	go n.Run()

	return &DB{db: db, path: path, notifier: n}, nil
}

// Close stops notifications and closes the database.
func (d *DB) Close() error {
	d.notifier.Stop()
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

func (d *DB) InsertCall(ctx context.Context) (store.Call, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC()
	for range maxIDAttempts {
		id, err := store.NewCallID()
		if err != nil {
			return store.Call{}, store.NewError("insert call", err)
		}
		res, err := d.db.ExecContext(ctx,
			`INSERT INTO calls (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
			id, now.UnixMilli())
		if err != nil {
			return store.Call{}, store.NewError("insert call", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}

		call := store.Call{ID: id, CreatedAt: time.UnixMilli(now.UnixMilli()).UTC()}
		d.notifier.Publish(store.Event{Type: store.EventInsert, Table: store.TableCalls, Call: &call})
		return call, nil
	}
	return store.Call{}, store.NewError("insert call", errors.New("could not allocate a unique call id"))
}

func (d *DB) GetCall(ctx context.Context, id string) (store.Call, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	call, err := d.getCall(ctx, id)
	return call, store.NewError("get call", err)
}

func (d *DB) getCall(ctx context.Context, id string) (store.Call, error) {
	var (
		offerSDP, offerType, answerSDP, answerType sql.NullString
		created                                    int64
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT offer_sdp, offer_type, answer_sdp, answer_type, created_at
		FROM calls WHERE id = ?`, id).
		Scan(&offerSDP, &offerType, &answerSDP, &answerType, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Call{}, store.ErrNotFound
	}
	if err != nil {
		return store.Call{}, err
	}

	call := store.Call{ID: id, CreatedAt: time.UnixMilli(created).UTC()}
	if offerSDP.Valid {
		call.Offer = &store.Description{SDP: offerSDP.String, Type: offerType.String}
	}
	if answerSDP.Valid {
		call.Answer = &store.Description{SDP: answerSDP.String, Type: answerType.String}
	}
	return call, nil
}

func (d *DB) SetOffer(ctx context.Context, id string, desc store.Description) error {
	return store.NewError("set offer", d.setDescription(ctx, id, "offer", desc))
}

func (d *DB) SetAnswer(ctx context.Context, id string, desc store.Description) error {
	return store.NewError("set answer", d.setDescription(ctx, id, "answer", desc))
}

// setDescription writes the offer or answer column pair once.
func (d *DB) setDescription(ctx context.Context, id, field string, desc store.Description) error {
	if desc.SDP == "" {
		return fmt.Errorf("%w: empty %s", store.ErrInvalid, field)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	q := fmt.Sprintf(`UPDATE calls SET %[1]s_sdp = ?, %[1]s_type = ? WHERE id = ? AND %[1]s_sdp IS NULL`, field)
	res, err := d.db.ExecContext(ctx, q, desc.SDP, desc.Type, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := d.getCall(ctx, id); err != nil {
			return err
		}
		return store.ErrConflict
	}

	call, err := d.getCall(ctx, id)
	if err != nil {
		return err
	}
	d.notifier.Publish(store.Event{Type: store.EventUpdate, Table: store.TableCalls, Call: &call})
	return nil
}

func (d *DB) DeleteCall(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return store.NewError("delete call", d.deleteCall(ctx, id))
}

func (d *DB) deleteCall(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM calls WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	d.notifier.Publish(store.Event{Type: store.EventDelete, Table: store.TableCalls, Call: &store.Call{ID: id}})
	return nil
}

func (d *DB) AddCandidate(ctx context.Context, ch store.Channel, c store.Candidate) (store.Candidate, error) {
	if c.CallID == "" || c.Candidate == "" {
		return store.Candidate{}, store.NewError("add candidate", fmt.Errorf("%w: candidate needs call id and value", store.ErrInvalid))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.getCall(ctx, c.CallID); err != nil {
		return store.Candidate{}, store.NewError("add candidate", err)
	}

	var mline sql.NullInt64
	if c.SDPMLineIndex != nil {
		mline = sql.NullInt64{Int64: int64(*c.SDPMLineIndex), Valid: true}
	}
	q := fmt.Sprintf(`INSERT INTO %s (call_id, candidate, sdp_mline_index, sdp_mid, username_fragment)
		VALUES (?, ?, ?, ?, ?)`, ch.Table())
	res, err := d.db.ExecContext(ctx, q, c.CallID, c.Candidate, mline, nullString(c.SDPMid), nullString(c.UsernameFragment))
	if err != nil {
		return store.Candidate{}, store.NewError("add candidate", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return store.Candidate{}, store.NewError("add candidate", err)
	}

	c.ID = id
	stored := c
	d.notifier.Publish(store.Event{Type: store.EventInsert, Table: ch.Table(), Candidate: &stored})
	return c, nil
}

func (d *DB) ListCandidates(ctx context.Context, ch store.Channel, callID string) ([]store.Candidate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	q := fmt.Sprintf(`SELECT id, candidate, sdp_mline_index, sdp_mid, username_fragment
		FROM %s WHERE call_id = ? ORDER BY id`, ch.Table())
	rows, err := d.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, store.NewError("list candidates", err)
	}
	defer rows.Close()

	var out []store.Candidate
	for rows.Next() {
		var (
			c          = store.Candidate{CallID: callID}
			mline      sql.NullInt64
			mid, ufrag sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Candidate, &mline, &mid, &ufrag); err != nil {
			return nil, store.NewError("list candidates", err)
		}
		if mline.Valid {
			v := uint16(mline.Int64)
			c.SDPMLineIndex = &v
		}
		if mid.Valid {
			c.SDPMid = &mid.String
		}
		if ufrag.Valid {
			c.UsernameFragment = &ufrag.String
		}
		out = append(out, c)
	}
	return out, store.NewError("list candidates", rows.Err())
}

func (d *DB) Subscribe(ctx context.Context, f store.Filter) (store.Subscription, error) {
	sub, err := d.notifier.Subscribe(ctx, f)
	return sub, store.NewError("subscribe", err)
}

// ListCalls returns a summary of every call, newest first.
func (d *DB) ListCalls(ctx context.Context) ([]store.CallSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, `
		SELECT c.id, c.created_at,
		       c.offer_sdp IS NOT NULL, c.answer_sdp IS NOT NULL,
		       (SELECT COUNT(*) FROM offer_candidates o WHERE o.call_id = c.id),
		       (SELECT COUNT(*) FROM answer_candidates a WHERE a.call_id = c.id)
		FROM calls c ORDER BY c.created_at DESC`)
	if err != nil {
		return nil, store.NewError("list calls", err)
	}
	defer rows.Close()

	var out []store.CallSummary
	for rows.Next() {
		var (
			s       store.CallSummary
			created int64
		)
		if err := rows.Scan(&s.ID, &created, &s.HasOffer, &s.HasAnswer, &s.OfferCandidates, &s.AnswerCandidates); err != nil {
			return nil, store.NewError("list calls", err)
		}
		s.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, s)
	}
	return out, store.NewError("list calls", rows.Err())
}

// DeleteExpired removes calls created more than ttl ago and returns their
// ids. Each removal is published as a DELETE.
func (d *DB) DeleteExpired(ctx context.Context, ttl time.Duration) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().Add(-ttl).UnixMilli()
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM calls WHERE created_at < ?`, cutoff)
	if err != nil {
		return nil, store.NewError("delete expired", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, store.NewError("delete expired", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	var deleted []string
	for _, id := range ids {
		if err := d.deleteCall(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return deleted, store.NewError("delete expired", err)
		}
		deleted = append(deleted, id)
	}
	return deleted, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
