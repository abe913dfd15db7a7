package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc is executed within a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction including retries.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

type txKey struct{}

// TxFromContext returns the transaction opened by RunTransaction or UnitOfWork, if any.
func TxFromContext(ctx context.Context) *firestore.Transaction {
	tx, _ := ctx.Value(txKey{}).(*firestore.Transaction)
	return tx
}

// RunTransaction runs fn inside a Firestore transaction. When ctx already carries a transaction
// fn joins it instead of opening a nested one. Errors returned by fn are passed back unchanged.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	if fn == nil {
		return errors.New("firestore: transaction function is nil")
	}
	if tx := TxFromContext(ctx); tx != nil {
		return fn(ctx, tx)
	}

	client, err := p.Client(ctx)
	if err != nil {
		return err
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	var fnErr error
	err = client.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		fnErr = fn(context.WithValue(txCtx, txKey{}, tx), tx)
		return fnErr
	}, firestore.MaxAttempts(cfg.attempts))
	if fnErr != nil {
		return fnErr
	}
	return WrapError("transaction", err)
}

// UnitOfWork adapts Provider transactions to repositories.UnitOfWork.
type UnitOfWork struct {
	provider *Provider
	opts     []TxOption
}

// NewUnitOfWork binds a unit of work to the provider.
func NewUnitOfWork(provider *Provider, opts ...TxOption) *UnitOfWork {
	return &UnitOfWork{provider: provider, opts: opts}
}

// RunInTx runs fn in a transaction. Repositories called with the context passed to fn read and
// write through that transaction.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return u.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		return fn(txCtx)
	}, u.opts...)
}
