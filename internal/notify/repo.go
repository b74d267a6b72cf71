package notify

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, d *Dispatch) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Dispatch, error) {
	var d Dispatch
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// MarkRunning transitions a queued or previously failed dispatch to
// running and counts the attempt. Redeliveries of a failed dispatch go
// through here again.
func (r *Repo) MarkRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Dispatch{}).
		Where("id = ? AND status IN ?", id, []DispatchStatus{DispatchQueued, DispatchFailed}).
		Updates(map[string]any{
			"status":   DispatchRunning,
			"attempts": gorm.Expr("attempts + 1"),
		}).Error
}

func (r *Repo) MarkSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Dispatch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": DispatchSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Dispatch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": DispatchFailed,
			"error":  errMsg,
		}).Error
}
