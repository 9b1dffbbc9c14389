package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pingme/internal/model"
	"pingme/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Store provides Postgres persistence for events, preferences and deliveries.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// SaveEvent inserts the event, leaving existing rows untouched.
func (s *Store) SaveEvent(ctx context.Context, ev model.DomainEvent) (bool, error) {
	raw, err := json.Marshal(ev.Raw)
	if err != nil {
		return false, fmt.Errorf("marshal raw log: %w", err)
	}
	var decoded []byte
	if ev.Decoded != nil {
		decoded, err = json.Marshal(ev.Decoded)
		if err != nil {
			return false, fmt.Errorf("marshal decoded fields: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO events (
			event_id, contract_address, contract_name, event_name, block_number, tx_hash, log_index,
			event_ts, coarse_timestamp, raw, decoded, decode_error, importance, processed, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,false,now())
		ON CONFLICT (event_id) DO NOTHING
	`,
		ev.ID,
		model.AddressKey(ev.ContractAddress),
		ev.ContractName,
		ev.EventName,
		int64(ev.BlockNumber),
		ev.TxHash,
		int64(ev.LogIndex),
		ev.Timestamp,
		ev.CoarseTimestamp,
		raw,
		decoded,
		ev.DecodeError,
		string(ev.Importance),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkProcessed flips processed once; later calls leave processed_at unchanged.
func (s *Store) MarkProcessed(ctx context.Context, eventID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE events SET processed = true, processed_at = now()
		WHERE event_id = $1 AND processed = false
	`, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE event_id = $1)`, eventID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return storage.ErrNotFound
		}
	}
	return nil
}

func (s *Store) GetPreference(ctx context.Context, userID string) (model.UserPreference, error) {
	var (
		pref       model.UserPreference
		methods    []string
		threshold  string
		quietHours []byte
	)
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, contracts, event_types, notification_methods, urgency_threshold,
			quiet_hours, batch_mode, max_per_hour, detailed_analysis
		FROM user_preferences WHERE user_id = $1
	`, userID)
	err := row.Scan(
		&pref.UserID,
		&pref.Contracts,
		&pref.EventTypes,
		&methods,
		&threshold,
		&quietHours,
		&pref.BatchMode,
		&pref.MaxPerHour,
		&pref.DetailedAnalysis,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.UserPreference{}, storage.ErrNotFound
		}
		return model.UserPreference{}, err
	}

	for _, method := range methods {
		pref.NotificationMethods = append(pref.NotificationMethods, model.Channel(method))
	}
	pref.UrgencyThreshold = model.Level(threshold)
	if len(quietHours) > 0 {
		if err := json.Unmarshal(quietHours, &pref.QuietHours); err != nil {
			return model.UserPreference{}, fmt.Errorf("parse quiet hours: %w", err)
		}
	}
	return pref, nil
}

// PutPreference upserts a preference row.
func (s *Store) PutPreference(ctx context.Context, pref model.UserPreference) error {
	quietHours, err := json.Marshal(pref.QuietHours)
	if err != nil {
		return fmt.Errorf("marshal quiet hours: %w", err)
	}
	methods := make([]string, 0, len(pref.NotificationMethods))
	for _, method := range pref.NotificationMethods {
		methods = append(methods, string(method))
	}
	contracts := make([]string, 0, len(pref.Contracts))
	for _, contract := range pref.Contracts {
		contracts = append(contracts, model.AddressKey(contract))
	}
	eventTypes := pref.EventTypes
	if eventTypes == nil {
		eventTypes = []string{}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO user_preferences (
			user_id, contracts, event_types, notification_methods, urgency_threshold,
			quiet_hours, batch_mode, max_per_hour, detailed_analysis, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
		ON CONFLICT (user_id) DO UPDATE SET
			contracts = EXCLUDED.contracts,
			event_types = EXCLUDED.event_types,
			notification_methods = EXCLUDED.notification_methods,
			urgency_threshold = EXCLUDED.urgency_threshold,
			quiet_hours = EXCLUDED.quiet_hours,
			batch_mode = EXCLUDED.batch_mode,
			max_per_hour = EXCLUDED.max_per_hour,
			detailed_analysis = EXCLUDED.detailed_analysis,
			updated_at = now()
	`,
		pref.UserID,
		contracts,
		eventTypes,
		methods,
		string(pref.UrgencyThreshold),
		quietHours,
		pref.BatchMode,
		pref.MaxPerHour,
		pref.DetailedAnalysis,
	)
	return err
}

// Interested returns users whose contract and event filters are empty or contain the
// event. Contracts are stored lowercase.
func (s *Store) Interested(ctx context.Context, contractAddress, eventName string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM user_preferences
		WHERE (cardinality(contracts) = 0 OR $1 = ANY(contracts))
		  AND (cardinality(event_types) = 0 OR $2 = ANY(event_types))
		ORDER BY user_id
	`, model.AddressKey(contractAddress), eventName)
	if err != nil {
		return nil, err
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) Contact(ctx context.Context, userID string) (model.Contact, error) {
	contact := model.Contact{UserID: userID}
	row := s.pool.QueryRow(ctx, `SELECT email, phone FROM users WHERE user_id = $1`, userID)
	if err := row.Scan(&contact.Email, &contact.Phone); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Contact{}, storage.ErrNotFound
		}
		return model.Contact{}, err
	}
	return contact, nil
}

// PutContact upserts a users row.
func (s *Store) PutContact(ctx context.Context, contact model.Contact) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (user_id, email, phone) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET email = EXCLUDED.email, phone = EXCLUDED.phone
	`, contact.UserID, contact.Email, contact.Phone)
	return err
}

// AppendDeliveries inserts delivery records in one batch.
func (s *Store) AppendDeliveries(ctx context.Context, records []model.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, record := range records {
		eventIDs := record.EventIDs
		if eventIDs == nil {
			eventIDs = []string{}
		}
		batch.Queue(`
			INSERT INTO delivery_records (
				id, user_id, event_ids, channel, title, body, priority, sent_at, delivered, error
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (id) DO NOTHING
		`,
			record.ID,
			record.UserID,
			eventIDs,
			string(record.Channel),
			record.Title,
			record.Body,
			string(record.Priority),
			record.SentAt,
			record.Delivered,
			record.Error,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
