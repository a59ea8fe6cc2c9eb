package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// AutoMigrate creates or updates every table the chat engine owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Chat{}, &Message{}, &Job{})
}

// InTx runs fn against a Repo bound to one transaction. Returning an error
// from fn rolls back every write made through tx.
func (r *Repo) InTx(ctx context.Context, fn func(tx *Repo) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repo{db: tx})
	})
}

// Chats

func (r *Repo) CreateChat(ctx context.Context, c *Chat) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// GetChat returns (nil, nil) when no chat has the given id.
func (r *Repo) GetChat(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChats returns the user's chats, most recently active first.
func (r *Repo) ListChats(ctx context.Context, userID string, limit int) ([]Chat, error) {
	if limit <= 0 {
		limit = 20
	}
	var chats []Chat
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

// UpdateTitleIfDefault sets the title only while the chat still carries
// DefaultTitle. It reports whether a row changed.
func (r *Repo) UpdateTitleIfDefault(ctx context.Context, chatID, title string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ? AND title = ?", chatID, DefaultTitle).
		Update("title", title)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) TouchChat(ctx context.Context, chatID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		UpdateColumn("updated_at", at).Error
}

// Messages

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// GetMessage returns (nil, nil) when the chat has no message with that id.
func (r *Repo) GetMessage(ctx context.Context, chatID, id string) (*Message, error) {
	var m Message
	err := r.db.WithContext(ctx).Where("chat_id = ? AND id = ?", chatID, id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListOptions pages and orders a chat's messages.
type ListOptions struct {
	Limit  int
	Offset int
	// OrderBy is one of createdAt, messageIndex, id. Defaults to createdAt.
	OrderBy string
	Desc    bool
}

var orderColumns = map[string]string{
	"":              "created_at",
	"createdAt":     "created_at",
	"created_at":    "created_at",
	"messageIndex":  "message_index",
	"message_index": "message_index",
	"id":            "id",
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (o ListOptions) normalize() (ListOptions, error) {
	if _, ok := orderColumns[o.OrderBy]; !ok {
		return o, fmt.Errorf("%w: %q", ErrInvalidOrder, o.OrderBy)
	}
	if o.Limit <= 0 {
		o.Limit = defaultPageSize
	}
	if o.Limit > maxPageSize {
		o.Limit = maxPageSize
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o, nil
}

// ListMessages returns one page of a chat's messages. Ties on the order
// column are broken by created_at then id so paging is stable.
func (r *Repo) ListMessages(ctx context.Context, chatID string, opts ListOptions) ([]Message, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	col := orderColumns[opts.OrderBy]

	q := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: opts.Desc})
	if col != "created_at" {
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: opts.Desc})
	}
	if col != "id" {
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: opts.Desc})
	}

	var msgs []Message
	if err := q.Limit(opts.Limit).Offset(opts.Offset).Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages (newest -> oldest).
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// SearchMessages does a case-insensitive substring match over one user's
// messages, newest first.
func (r *Repo) SearchMessages(ctx context.Context, userID, query string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(content) LIKE ? ESCAPE '!'", userID, pattern).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

// Job CRUD

func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, assistantMsgID *string, reply string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobSucceeded,
			"result_message_id": assistantMsgID,
			"reply":             reply,
			"error":             nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobFailed,
			"error":             errMsg,
			"result_message_id": nil,
		}).Error
}

func (r *Repo) GetJobByUserAndIdempotencyKey(ctx context.Context, userID string, key string) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJobOrGetExisting tries to create a job, but if (user_id, idempotency_key) already exists,
// it returns the existing job instead.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetJobByUserAndIdempotencyKey(ctx, job.UserID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}

	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}
