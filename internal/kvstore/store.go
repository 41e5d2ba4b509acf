// Package kvstore is the embedded BadgerDB backend. Every table is a key
// prefix; composite keys join their parts with a NUL byte so prefix scans
// never bleed into a longer neighbouring key.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"horse.fit/newsfeed/internal/apperr"
	"horse.fit/newsfeed/internal/news"
)

const (
	articlePrefix  = "article:"
	keywordPrefix  = "kw:"
	categoryPrefix = "cat:"
	rankPrefix     = "rank:"
	recPrefix      = "rec:"
	likePrefix     = "like:"
	userPrefix     = "user:"
	statePrefix    = "state:"

	sep = "\x00"

	maxTxnRetries = 32
)

type Store struct {
	db *badger.DB
}

// Open opens (or creates) an on-disk store in dir.
func Open(dir string, logger zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger: logger})
	return open(opts)
}

// OpenInMemory is used by tests and single-process demos.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(_ context.Context) error {
	if s == nil || s.db == nil || s.db.IsClosed() {
		return fmt.Errorf("badger store is closed")
	}
	return nil
}

func articleKey(id string) []byte { return []byte(articlePrefix + id) }

func keywordKey(term, id string) []byte { return []byte(keywordPrefix + term + sep + id) }

func rankKey(username, id string) []byte { return []byte(rankPrefix + username + sep + id) }

func recKey(username, recUUID string) []byte { return []byte(recPrefix + username + sep + recUUID) }

func likeKey(articleUUID, username string) []byte {
	return []byte(likePrefix + articleUUID + sep + username)
}

func (s *Store) UpsertArticles(_ context.Context, articles []news.Article) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, a := range articles {
		a.PublishedAt = a.PublishedAt.UTC()
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal article %s: %w", a.ArticleUUID, err)
		}
		if err := wb.Set(articleKey(a.ArticleUUID), data); err != nil {
			return fmt.Errorf("set article: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush articles: %w", err)
	}
	return nil
}

func (s *Store) UpsertPostings(_ context.Context, postings []news.Posting) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, p := range postings {
		if err := wb.Set(keywordKey(p.Keyword, p.ArticleUUID), nil); err != nil {
			return fmt.Errorf("set posting: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush postings: %w", err)
	}
	return nil
}

func (s *Store) UpsertCategories(_ context.Context, categories []string) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, c := range categories {
		if err := wb.Set([]byte(categoryPrefix+c), nil); err != nil {
			return fmt.Errorf("set category: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush categories: %w", err)
	}
	return nil
}

func (s *Store) ClearPostings(_ context.Context) error {
	if err := s.db.DropPrefix([]byte(keywordPrefix)); err != nil {
		return fmt.Errorf("drop postings: %w", err)
	}
	return nil
}

func (s *Store) PostingsFor(_ context.Context, term string) ([]string, error) {
	prefix := []byte(keywordPrefix + term + sep)
	ids := make([]string, 0, 64)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan postings for %q: %w", term, err)
	}
	return ids, nil
}

func (s *Store) GetArticles(_ context.Context, ids []string) ([]news.Article, error) {
	out := make([]news.Article, 0, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			var article news.Article
			found, err := getJSON(txn, articleKey(id), &article)
			if err != nil {
				return err
			}
			if found {
				out = append(out, article)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get articles: %w", err)
	}
	return out, nil
}

func (s *Store) GetArticle(_ context.Context, id string) (news.Article, error) {
	var article news.Article
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, articleKey(id), &article)
		return err
	})
	if err != nil {
		return news.Article{}, fmt.Errorf("get article: %w", err)
	}
	if !found {
		return news.Article{}, apperr.NotFound("article %s not found", id)
	}
	return article, nil
}

func (s *Store) ListCategories(_ context.Context) ([]string, error) {
	prefix := []byte(categoryPrefix)
	out := make([]string, 0, 64)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) WeightsFor(_ context.Context, username string, ids []string) (map[string]float64, error) {
	out := make(map[string]float64, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			var weight float64
			found, err := getJSON(txn, rankKey(username, id), &weight)
			if err != nil {
				return err
			}
			if found {
				out[id] = weight
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get ranking weights: %w", err)
	}
	return out, nil
}

func (s *Store) UpsertWeights(_ context.Context, weights []news.RankingWeight) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, w := range weights {
		data, err := json.Marshal(w.AdsorptionWeight)
		if err != nil {
			return fmt.Errorf("marshal weight: %w", err)
		}
		if err := wb.Set(rankKey(w.Username, w.ArticleUUID), data); err != nil {
			return fmt.Errorf("set weight: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush weights: %w", err)
	}
	return nil
}

// ListRecommendations walks the user's rec keys newest first. before is an
// exclusive upper bound.
func (s *Store) ListRecommendations(_ context.Context, username, before string, limit int) ([]news.Recommendation, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	prefix := []byte(recPrefix + username + sep)
	seek := append([]byte{}, prefix...)
	if before != "" {
		seek = append(seek, before...)
	} else {
		seek = append(seek, 0xFF)
	}

	out := make([]news.Recommendation, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			item := it.Item()
			recUUID := string(item.Key()[len(prefix):])
			if before != "" && recUUID >= before {
				continue
			}
			articleUUID, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, news.Recommendation{Username: username, RecUUID: recUUID, ArticleUUID: string(articleUUID)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	return out, nil
}

func (s *Store) AddRecommendations(_ context.Context, recs []news.Recommendation) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, rec := range recs {
		if err := wb.Set(recKey(rec.Username, rec.RecUUID), []byte(rec.ArticleUUID)); err != nil {
			return fmt.Errorf("set recommendation: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush recommendations: %w", err)
	}
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (news.User, error) {
	var user news.User
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, []byte(userPrefix+username), &user)
		return err
	})
	if err != nil {
		return news.User{}, fmt.Errorf("get user: %w", err)
	}
	if !found {
		return news.User{}, apperr.NotFound("user %s not found", username)
	}
	return user, nil
}

func (s *Store) UpsertUser(_ context.Context, user news.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(userPrefix+user.Username), data)
	})
}

// CreateLike fails with Conflict when the pair is already liked.
func (s *Store) CreateLike(_ context.Context, like news.Like) error {
	like.LikedAt = like.LikedAt.UTC()
	data, err := json.Marshal(like)
	if err != nil {
		return fmt.Errorf("marshal like: %w", err)
	}
	key := likeKey(like.ArticleUUID, like.Username)
	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return apperr.Conflict("%s already liked article %s", like.Username, like.ArticleUUID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

// DeleteLike fails with Conflict when the pair is not liked.
func (s *Store) DeleteLike(_ context.Context, username, articleUUID string) error {
	key := likeKey(articleUUID, username)
	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return apperr.Conflict("%s has not liked article %s", username, articleUUID)
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// AcquireRun takes the named recompute lock for owner, or folds the request
// into a pending rerun when another holder is active. Badger aborts
// conflicting transactions on commit, which makes the read-modify-write a
// CAS.
func (s *Store) AcquireRun(_ context.Context, name, owner string, now time.Time, lease time.Duration) (news.Acquire, error) {
	var result news.Acquire
	err := s.update(func(txn *badger.Txn) error {
		result = news.Acquire{}
		state, err := getState(txn, name)
		if err != nil {
			return err
		}
		if !state.Active(now, lease) {
			result.Acquired = true
			return putState(txn, news.RunState{Name: name, Status: news.RunRunning, Owner: owner, UpdatedAt: now.UTC()})
		}
		result.Pending = true
		if state.Status == news.RunRunningPending {
			return nil
		}
		state.Status = news.RunRunningPending
		return putState(txn, state)
	})
	if err != nil {
		return news.Acquire{}, fmt.Errorf("acquire run %s: %w", name, err)
	}
	return result, nil
}

// RenewRun extends the lease of owner's run.
func (s *Store) RenewRun(_ context.Context, name, owner string, now time.Time) error {
	err := s.update(func(txn *badger.Txn) error {
		state, err := getState(txn, name)
		if err != nil {
			return err
		}
		if !heldBy(state, owner) {
			return news.ErrRunLockLost
		}
		state.UpdatedAt = now.UTC()
		return putState(txn, state)
	})
	if err != nil {
		return fmt.Errorf("renew run %s: %w", name, err)
	}
	return nil
}

// ReleaseRun ends owner's run. It reports rerun=true when a pending request
// was folded in, in which case owner keeps the lock for the next run.
func (s *Store) ReleaseRun(_ context.Context, name, owner string, now time.Time) (bool, error) {
	var rerun bool
	err := s.update(func(txn *badger.Txn) error {
		state, err := getState(txn, name)
		if err != nil {
			return err
		}
		if !heldBy(state, owner) {
			return news.ErrRunLockLost
		}
		rerun = state.Status == news.RunRunningPending
		next := news.RunState{Name: name, Status: news.RunIdle, UpdatedAt: now.UTC()}
		if rerun {
			next.Status = news.RunRunning
			next.Owner = owner
		}
		return putState(txn, next)
	})
	if err != nil {
		return false, fmt.Errorf("release run %s: %w", name, err)
	}
	return rerun, nil
}

func heldBy(state news.RunState, owner string) bool {
	running := state.Status == news.RunRunning || state.Status == news.RunRunningPending
	return running && state.Owner == owner
}

func (s *Store) RunState(_ context.Context, name string) (news.RunState, error) {
	var state news.RunState
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		state, err = getState(txn, name)
		return err
	})
	if err != nil {
		return news.RunState{}, fmt.Errorf("get run state %s: %w", name, err)
	}
	return state, nil
}

// update retries fn when a concurrent transaction touched the same keys.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getState(txn *badger.Txn, name string) (news.RunState, error) {
	state := news.RunState{Name: name, Status: news.RunIdle}
	if _, err := getJSON(txn, []byte(statePrefix+name), &state); err != nil {
		return news.RunState{}, err
	}
	return state, nil
}

func putState(txn *badger.Txn, state news.RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	return txn.Set([]byte(statePrefix+state.Name), data)
}

func getJSON(txn *badger.Txn, key []byte, dest any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, dest)
	}); err != nil {
		return false, err
	}
	return true, nil
}

type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Trace().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
