package store

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/otiai10/mapsync/internal/presence"
)

// FirestoreConfig holds configuration for FirestoreStore
type FirestoreConfig struct {
	ProjectID   string      // GCP Project ID (required)
	Database    string      // Database name (optional, defaults to "(default)")
	Credentials string      // Path to service account JSON file (optional)
	Collection  string      // Collection name (optional, defaults to "users")
	Logger      *zap.Logger // optional
}

// FirestoreStore keeps one document per uid in a Firestore collection and
// watches it with query snapshots
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	projectID  string
	database   string
}

// Ensure FirestoreStore implements Store interface
var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore creates a new Firestore client and store.
// If FIRESTORE_EMULATOR_HOST is set, the client will connect to the emulator.
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	emulatorHost := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if emulatorHost != "" {
		logger.Info("Using Firestore Emulator", zap.String("host", emulatorHost))
	}

	var opts []option.ClientOption
	if cfg.Credentials != "" && emulatorHost == "" {
		// Only use credentials file when not using emulator
		opts = append(opts, option.WithCredentialsFile(cfg.Credentials))
	}

	database := cfg.Database
	if database == "" {
		database = "(default)"
	}

	client, err := firestore.NewClientWithDatabase(ctx, cfg.ProjectID, database, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	s := NewFirestoreStoreWithClient(client, cfg.Collection)
	s.projectID = cfg.ProjectID
	s.database = database
	return s, nil
}

// NewFirestoreStoreWithClient wraps an existing Firestore client
func NewFirestoreStoreWithClient(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreStore{
		client:     client,
		collection: collection,
	}
}

// Set replaces the document <collection>/<uid>. Set without merge options
// drops any field that is not in rec.
func (s *FirestoreStore) Set(ctx context.Context, uid string, rec presence.Record) error {
	if s.client == nil {
		return fmt.Errorf("firestore client is nil")
	}
	if _, err := s.client.Collection(s.collection).Doc(uid).Set(ctx, recordToMap(rec)); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", s.collection, uid, err)
	}
	return nil
}

// Users returns every document of the collection
func (s *FirestoreStore) Users(ctx context.Context) (presence.Users, error) {
	if s.client == nil {
		return nil, fmt.Errorf("firestore client is nil")
	}
	docs, err := s.client.Collection(s.collection).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.collection, err)
	}
	return usersFromDocuments(docs), nil
}

// Watch listens to query snapshots of the whole collection. The first
// snapshot is read before Watch returns so that permission and connection
// errors surface to the caller.
func (s *FirestoreStore) Watch(ctx context.Context, fn Handler) (*Subscription, error) {
	if s.client == nil {
		return nil, fmt.Errorf("firestore client is nil")
	}

	sub, wctx := newSubscription(ctx)
	iter := s.client.Collection(s.collection).Snapshots(wctx)

	initial, err := s.next(iter)
	if err != nil {
		iter.Stop()
		sub.cancel()
		return nil, err
	}

	go func() {
		defer iter.Stop()

		if wctx.Err() == nil {
			fn(initial)
		}
		for {
			users, err := s.next(iter)
			if err != nil {
				if wctx.Err() != nil || status.Code(err) == codes.Canceled {
					sub.finish(nil)
				} else {
					sub.finish(err)
				}
				return
			}
			fn(users)
		}
	}()

	return sub, nil
}

func (s *FirestoreStore) next(iter *firestore.QuerySnapshotIterator) (presence.Users, error) {
	snap, err := iter.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", s.collection, err)
	}
	docs, err := snap.Documents.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s snapshot: %w", s.collection, err)
	}
	return usersFromDocuments(docs), nil
}

// Close releases resources held by the Firestore client
func (s *FirestoreStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// ProjectID returns the GCP project ID
func (s *FirestoreStore) ProjectID() string {
	return s.projectID
}

// Database returns the Firestore database name
func (s *FirestoreStore) Database() string {
	return s.database
}

func usersFromDocuments(docs []*firestore.DocumentSnapshot) presence.Users {
	users := make(presence.Users, len(docs))
	for _, doc := range docs {
		users[doc.Ref.ID] = recordFromMap(doc.Data())
	}
	return users
}

// recordToMap converts a Record to a map for Firestore storage
func recordToMap(rec presence.Record) map[string]interface{} {
	return map[string]interface{}{
		"lat":         rec.Lat,
		"lng":         rec.Lng,
		"tipo":        rec.Tipo,
		"displayName": rec.DisplayName,
	}
}

// recordFromMap converts Firestore document data to a Record.
// Web clients write whole-number coordinates as integers, so both int64
// and float64 are accepted.
func recordFromMap(data map[string]interface{}) presence.Record {
	var rec presence.Record
	rec.Lat = numberField(data, "lat")
	rec.Lng = numberField(data, "lng")
	if tipo, ok := data["tipo"].(string); ok {
		rec.Tipo = tipo
	}
	if name, ok := data["displayName"].(string); ok {
		rec.DisplayName = name
	}
	return rec
}

func numberField(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}
