// Package ha keeps replicated compat servers from duplicating background
// work. The database is never written: PostgreSQL advisory locks live in
// server memory, and other dialects fall back to an in-process lock.
package ha

import (
	"context"
	"fmt"
	"hash/crc32"
	"sync"

	"gorm.io/gorm"
)

// Locker guards work that only one replica should run at a time.
type Locker interface {
	// TryWithLock runs fn if the lock is free and reports whether it ran.
	// It never waits for another holder.
	TryWithLock(ctx context.Context, fn func(context.Context) error) (bool, error)
}

// NewLocker returns a Locker named name, appropriate for the database
// dialect. A nil db yields an in-process lock.
func NewLocker(db *gorm.DB, name string) Locker {
	if db != nil && db.Dialector.Name() == "postgres" {
		return &pgAdvisoryLock{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte(name))),
		}
	}
	return &localLock{}
}

// pgAdvisoryLock uses a session-level PostgreSQL advisory lock. Lock and
// unlock must run on the same connection, so the whole critical section
// holds one pooled connection.
type pgAdvisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *pgAdvisoryLock) TryWithLock(ctx context.Context, fn func(context.Context) error) (bool, error) {
	ran := false
	err := l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var acquired bool
		if err := conn.Raw("SELECT pg_try_advisory_lock(?)", l.lockID).Scan(&acquired).Error; err != nil {
			return fmt.Errorf("try advisory lock %d: %w", l.lockID, err)
		}
		if !acquired {
			return nil
		}
		// Unlock even when ctx is done; otherwise the connection goes back
		// to the pool still holding the lock.
		defer conn.WithContext(context.WithoutCancel(ctx)).Exec("SELECT pg_advisory_unlock(?)", l.lockID)

		ran = true
		return fn(ctx)
	})
	return ran, err
}

// localLock serializes holders within one process.
type localLock struct {
	mu sync.Mutex
}

func (l *localLock) TryWithLock(ctx context.Context, fn func(context.Context) error) (bool, error) {
	if !l.mu.TryLock() {
		return false, nil
	}
	defer l.mu.Unlock()
	return true, fn(ctx)
}
