// Пакет repository реализует слой доступа к данным PostgreSQL.
// Все запросы: чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrStoreUnreachable возвращается, когда PostgreSQL недоступен
	// (ошибка подключения или сетевая ошибка во время запроса).
	ErrStoreUnreachable = errors.New("хранилище недоступно")

	// ErrInvalidSortField возвращается при сортировке по полю вне whitelist.
	ErrInvalidSortField = errors.New("недопустимое поле сортировки")
)

// DBTX: интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner открывает транзакцию. Реализуется *pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// snapshotRead: чтение из одного снимка данных. Страница и COUNT(*)
// видят одинаковое состояние даже во время параллельной синхронизации.
var snapshotRead = pgx.TxOptions{
	IsoLevel:   pgx.RepeatableRead,
	AccessMode: pgx.ReadOnly,
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	db TxBeginner
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(db TxBeginner) *TxRunner {
	return &TxRunner{db: db}
}

// RunInTx выполняет fn внутри транзакции с настройками по умолчанию.
// При ошибке fn транзакция откатывается, при успехе коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.RunInTxOptions(ctx, pgx.TxOptions{}, fn)
}

// RunInTxOptions выполняет fn внутри транзакции с заданными опциями.
func (r *TxRunner) RunInTxOptions(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, opts)
	if err != nil {
		return classify(fmt.Errorf("ошибка начала транзакции: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита: no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("ошибка коммита транзакции: %w", err))
	}
	return nil
}

// Проверка на этапе компиляции: пул реализует оба интерфейса.
var (
	_ DBTX       = (*pgxpool.Pool)(nil)
	_ TxBeginner = (*pgxpool.Pool)(nil)
)

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isConnectionError определяет ошибки, при которых PostgreSQL недоступен:
// отказ подключения, сетевые ошибки, закрытый пул.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Пул закрыт при остановке сервиса
	if strings.Contains(err.Error(), "closed pool") {
		return true
	}
	// Ошибки, возникшие до отправки запроса на сервер (обрыв соединения)
	return pgconn.SafeToRetry(err)
}

// classify добавляет ErrStoreUnreachable к ошибкам подключения.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnreachable) {
		return err
	}
	if isConnectionError(err) {
		return fmt.Errorf("%w: %w", ErrStoreUnreachable, err)
	}
	return err
}
