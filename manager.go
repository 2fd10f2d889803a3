package departureboard

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tidbyt.dev/departureboard/downloader"
	"tidbyt.dev/departureboard/parse"
	"tidbyt.dev/departureboard/ptref"
	"tidbyt.dev/departureboard/storage"
)

const (
	DefaultStaticRefreshInterval = 12 * time.Hour
	DefaultRealtimeTTL           = 1 * time.Minute
	DefaultRealtimeTimeout       = 30 * time.Second
	DefaultRealtimeMaxSize       = 1 << 20 // 1 MB
	DefaultStaticTimeout         = 60 * time.Second
	DefaultStaticMaxSize         = 800 << 20 // 800 MB
)

var ErrNoActiveFeed = errors.New("no active feed found")

// A static feed the manager keeps fresh.
type trackedFeed struct {
	headers     map[string]string
	refreshedAt time.Time
}

// Manager manages GTFS data: downloads static feeds into storage,
// keeps them fresh, and builds the departure engine on top of them.
type Manager struct {
	RealtimeTTL           time.Duration
	RealtimeTimeout       time.Duration
	RealtimeMaxSize       int
	StaticTimeout         time.Duration
	StaticMaxSize         int
	StaticRefreshInterval time.Duration
	Downloader            downloader.Downloader
	Logger                zerolog.Logger

	storage storage.Storage

	mutex   sync.Mutex
	tracked map[string]*trackedFeed
}

// Creates a new Manager of GTFS data, on top of the given storage.
//
// By default, the manager will use an in memory cache for realtime
// data, but not for static schedules as these are persisted in
// storage.
func NewManager(s storage.Storage) *Manager {
	return &Manager{
		RealtimeTTL:           DefaultRealtimeTTL,
		RealtimeTimeout:       DefaultRealtimeTimeout,
		RealtimeMaxSize:       DefaultRealtimeMaxSize,
		StaticTimeout:         DefaultStaticTimeout,
		StaticMaxSize:         DefaultStaticMaxSize,
		StaticRefreshInterval: DefaultStaticRefreshInterval,
		Downloader:            downloader.NewMemoryDownloader(),
		Logger:                zerolog.Nop(),

		storage: s,
		tracked: map[string]*trackedFeed{},
	}
}

// Registers a static feed for refreshing. Headers replace any given
// previously for the same URL.
func (m *Manager) Track(staticURL string, headers map[string]string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if feed, found := m.tracked[staticURL]; found {
		feed.headers = headers
		return
	}
	m.tracked[staticURL] = &trackedFeed{headers: headers}
}

// Loads static GTFS data from a URL.
//
// The most recently retrieved feed active at when is returned. If
// storage holds no feed at all for the URL, it is downloaded first.
func (m *Manager) LoadStatic(
	ctx context.Context,
	staticURL string,
	headers map[string]string,
	when time.Time,
) (*Static, error) {
	m.Track(staticURL, headers)

	feeds, err := m.storage.ListFeeds(storage.ListFeedsFilter{URL: staticURL})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}

	if len(feeds) == 0 {
		err = m.refreshFeed(ctx, staticURL)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", staticURL, err)
		}

		feeds, err = m.storage.ListFeeds(storage.ListFeedsFilter{URL: staticURL})
		if err != nil {
			return nil, fmt.Errorf("listing feeds: %w", err)
		}
	}

	return m.loadMostRecentActive(feeds, when)
}

// Like LoadStatic, but never downloads. A URL not yet in storage
// yields ErrNoActiveFeed, and is retrieved by the next Refresh().
func (m *Manager) LoadStaticAsync(staticURL string, headers map[string]string, when time.Time) (*Static, error) {
	m.Track(staticURL, headers)

	feeds, err := m.storage.ListFeeds(storage.ListFeedsFilter{URL: staticURL})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}

	return m.loadMostRecentActive(feeds, when)
}

// Loads realtime data for a static feed from one or more GTFS-rt
// feeds.
func (m *Manager) LoadRealtime(
	ctx context.Context,
	static *Static,
	realtimeURLs []string,
	headers map[string]string,
	opts ...RealtimeOption,
) (*Realtime, error) {
	feeds := make([][]byte, 0, len(realtimeURLs))
	for _, u := range realtimeURLs {
		data, err := m.Downloader.Get(ctx, u, headers, downloader.GetOptions{
			Cache:    true,
			CacheTTL: m.RealtimeTTL,
			Timeout:  m.RealtimeTimeout,
			MaxSize:  m.RealtimeMaxSize,
		})
		if err != nil {
			return nil, fmt.Errorf("downloading realtime from %s: %w", u, err)
		}
		feeds = append(feeds, data)
	}

	realtime, err := NewRealtime(ctx, static, feeds, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating realtime: %w", err)
	}

	return realtime, nil
}

// Builds an engine answering from static's dataset through router.
// router is typically static itself, or a Realtime wrapping it.
func (m *Manager) LoadEngine(static *Static, router Router, config EngineConfig) (*Engine, error) {
	index, err := ptref.NewIndex(static.Reader)
	if err != nil {
		return nil, fmt.Errorf("indexing referential: %w", err)
	}

	dataset, err := NewDataset(static, index)
	if err != nil {
		return nil, fmt.Errorf("building dataset: %w", err)
	}

	if config.Logger == nil {
		config.Logger = &m.Logger
	}

	return NewEngine(dataset, router, config), nil
}

// Refreshes any tracked feeds that might need refreshing.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mutex.Lock()
	due := []string{}
	for u, feed := range m.tracked {
		if !feed.refreshedAt.After(time.Now().Add(-m.StaticRefreshInterval)) {
			due = append(due, u)
		}
	}
	m.mutex.Unlock()

	sort.Strings(due)

	errs := []error{}
	for _, u := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := m.refreshFeed(ctx, u)
		if err != nil {
			errs = append(errs, fmt.Errorf("refreshing feed at %s: %w", u, err))
		}
	}

	return errors.Join(errs...)
}

// Downloads a tracked URL. If the data is already in storage, a copy
// of its metadata may be made to ensure a record with the hash and
// this URL exists.
//
// The feed is marked as refreshed even when the downloaded data is
// broken, so it's not retried until the refresh interval has passed.
func (m *Manager) refreshFeed(ctx context.Context, staticURL string) error {
	m.mutex.Lock()
	feed, found := m.tracked[staticURL]
	var headers map[string]string
	if found {
		headers = feed.headers
	}
	m.mutex.Unlock()

	body, err := m.Downloader.Get(ctx, staticURL, headers, downloader.GetOptions{
		Cache:   false,
		Timeout: m.StaticTimeout,
		MaxSize: m.StaticMaxSize,
	})
	if err != nil {
		return fmt.Errorf("downloading: %w", err)
	}
	hash := fmt.Sprintf("%x", sha256.Sum256(body))

	err = m.storeFeed(staticURL, hash, body)

	m.mutex.Lock()
	if feed, found := m.tracked[staticURL]; found {
		feed.refreshedAt = time.Now()
	}
	m.mutex.Unlock()

	if err != nil {
		return err
	}

	m.Logger.Info().Str("url", staticURL).Str("hash", hash).Msg("static feed refreshed")

	return nil
}

func (m *Manager) storeFeed(staticURL string, hash string, body []byte) error {
	existing, err := m.storage.ListFeeds(storage.ListFeedsFilter{Hash: hash})
	if err != nil {
		return fmt.Errorf("listing feeds: %w", err)
	}

	if len(existing) > 0 {
		for _, feed := range existing {
			if feed.URL == staticURL {
				// Hash exists for this same URL. Nothing
				// to do.
				return nil
			}
		}

		// It's in storage, but for a different URL. Add a
		// metadata record for this URL.
		metadata := *existing[0]
		metadata.URL = staticURL
		metadata.RetrievedAt = time.Now().UTC()
		err = m.storage.WriteFeedMetadata(&metadata)
		if err != nil {
			return fmt.Errorf("writing metadata: %w", err)
		}
		return nil
	}

	writer, err := m.storage.GetWriter(hash)
	if err != nil {
		return fmt.Errorf("getting writer: %w", err)
	}

	metadata, err := parse.ParseStatic(writer, body)
	if err != nil {
		writer.Close()
		return fmt.Errorf("parsing: %w", err)
	}

	err = writer.Close()
	if err != nil {
		return fmt.Errorf("closing writer: %w", err)
	}

	metadata.Hash = hash
	metadata.URL = staticURL
	metadata.RetrievedAt = time.Now().UTC()

	err = m.storage.WriteFeedMetadata(metadata)
	if err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	return nil
}

// Selects the most recently retrieved feed from feeds that is also
// active at the given time.
func (m *Manager) loadMostRecentActive(feeds []*storage.FeedMetadata, when time.Time) (*Static, error) {
	sort.Slice(feeds, func(i, j int) bool {
		return feeds[i].RetrievedAt.Before(feeds[j].RetrievedAt)
	})

	for i := len(feeds) - 1; i >= 0; i-- {
		ok, err := feedActive(feeds[i], when)
		if err != nil {
			return nil, fmt.Errorf("checking if feed is active: %w", err)
		}
		if !ok {
			continue
		}

		reader, err := m.storage.GetReader(feeds[i].Hash)
		if err != nil {
			return nil, fmt.Errorf("getting reader: %w", err)
		}
		static, err := NewStatic(reader, feeds[i])
		if err != nil {
			return nil, fmt.Errorf("creating static: %w", err)
		}
		return static, nil
	}

	return nil, ErrNoActiveFeed
}

func feedActive(feed *storage.FeedMetadata, now time.Time) (bool, error) {
	feedTz, err := time.LoadLocation(feed.Timezone)
	if err != nil {
		return false, fmt.Errorf("loading timezone: %w", err)
	}

	todayThere := now.In(feedTz).Format("20060102")

	if feed.CalendarStartDate > todayThere {
		return false, nil
	}
	if feed.CalendarEndDate < todayThere {
		return false, nil
	}

	return true, nil
}
