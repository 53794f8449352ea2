package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/character-module/internal/domain/model"
)

// characterColumns: список столбцов таблицы characters для SELECT-запросов.
const characterColumns = `id, name, status, species, origin`

// errDuplicate сигнализирует RunInTx об откате вставки существующей записи.
var errDuplicate = errors.New("запись уже существует")

// Pool: возможности пула подключений, нужные репозиторию.
// Реализуется *pgxpool.Pool.
type Pool interface {
	DBTX
	TxBeginner
}

// CharacterRepository: интерфейс доступа к таблице characters.
type CharacterRepository interface {
	// Upsert вставляет запись в отдельной транзакции.
	// Если запись с таким id уже есть, транзакция откатывается,
	// возвращается inserted=false и nil.
	Upsert(ctx context.Context, c model.Character) (inserted bool, err error)
	// IsEmpty сообщает, что в таблице нет ни одной записи.
	IsEmpty(ctx context.Context) (bool, error)
	// Query возвращает страницу записей по критериям и общее количество совпадений.
	Query(ctx context.Context, criteria model.QueryCriteria) ([]model.Character, int, error)
	// Ping проверяет доступность PostgreSQL.
	Ping(ctx context.Context) error
}

// characterRepo: реализация CharacterRepository через pgx.
type characterRepo struct {
	pool Pool
	tx   *TxRunner
}

// NewCharacterRepository создаёт репозиторий персонажей.
func NewCharacterRepository(pool Pool) CharacterRepository {
	return &characterRepo{
		pool: pool,
		tx:   NewTxRunner(pool),
	}
}

// Upsert вставляет персонажа. Повторная вставка того же id не меняет
// существующую строку и не считается ошибкой.
func (r *characterRepo) Upsert(ctx context.Context, c model.Character) (bool, error) {
	query := `
		INSERT INTO characters (id, name, status, species, origin)
		VALUES ($1, $2, $3, $4, $5)`

	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query, c.ID, c.Name, c.Status, c.Species, c.Origin); err != nil {
			if isUniqueViolation(err) {
				return errDuplicate
			}
			return classify(fmt.Errorf("ошибка вставки персонажа %d: %w", c.ID, err))
		}
		return nil
	})
	if errors.Is(err, errDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsEmpty проверяет наличие хотя бы одной строки.
func (r *characterRepo) IsEmpty(ctx context.Context) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM characters)`).Scan(&exists)
	if err != nil {
		return false, classify(fmt.Errorf("ошибка проверки наличия персонажей: %w", err))
	}
	return !exists, nil
}

// Query выполняет выборку с фильтрами, сортировкой и пагинацией.
// Страница и общее количество читаются в одной транзакции REPEATABLE READ.
// Возвращает (страница, общее количество совпадений, ошибка).
func (r *characterRepo) Query(ctx context.Context, criteria model.QueryCriteria) ([]model.Character, int, error) {
	where, args := buildCharacterWhere(criteria, 1)
	argNum := len(args) + 1

	orderBy, err := buildOrderBy(criteria.SortField, criteria.SortDescending)
	if err != nil {
		return nil, 0, err
	}

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM characters %s %s LIMIT $%d OFFSET $%d`,
		characterColumns, where, orderBy, argNum, argNum+1,
	)
	dataArgs := append(args[:len(args):len(args)], criteria.PageSize, criteria.Offset())
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM characters %s`, where)

	var (
		result []model.Character
		total  int
	)
	err = r.tx.RunInTxOptions(ctx, snapshotRead, func(tx pgx.Tx) error {
		var err error
		result, err = scanCharacters(ctx, tx, criteria.PageSize, dataQuery, dataArgs...)
		if err != nil {
			return err
		}

		// Общее количество с теми же фильтрами, без LIMIT/OFFSET
		if err := tx.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
			return classify(fmt.Errorf("ошибка подсчёта персонажей: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

// scanCharacters читает строки выборки. Rows закрываются до возврата,
// чтобы соединение транзакции было свободно для следующего запроса.
func scanCharacters(ctx context.Context, db DBTX, capacity int, query string, args ...any) ([]model.Character, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("ошибка выборки персонажей: %w", err))
	}
	defer rows.Close()

	result := make([]model.Character, 0, capacity)
	for rows.Next() {
		var c model.Character
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.Species, &c.Origin); err != nil {
			return nil, fmt.Errorf("ошибка сканирования персонажа: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("ошибка итерации результатов: %w", err))
	}
	return result, nil
}

// Ping выполняет SELECT 1. Любая ошибка означает недоступность хранилища.
func (r *characterRepo) Ping(ctx context.Context) error {
	var one int
	if err := r.pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnreachable, err)
	}
	return nil
}

// buildCharacterWhere строит WHERE-условие и аргументы по фильтрам.
// startArg: номер первого $-параметра.
func buildCharacterWhere(c model.QueryCriteria, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	if c.NameContains != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", argNum))
		args = append(args, containsPattern(c.NameContains))
		argNum++
	}

	if c.StatusEquals != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, c.StatusEquals)
		argNum++
	}

	if c.SpeciesEquals != "" {
		conditions = append(conditions, fmt.Sprintf("species = $%d", argNum))
		args = append(args, c.SpeciesEquals)
		argNum++
	}

	if c.OriginContains != "" {
		conditions = append(conditions, fmt.Sprintf("origin ILIKE $%d", argNum))
		args = append(args, containsPattern(c.OriginContains))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// likeEscaper экранирует спецсимволы LIKE (escape-символ по умолчанию: обратный слэш).
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern превращает подстроку в шаблон ILIKE.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// allowedSortFields: whitelist полей сортировки.
var allowedSortFields = map[string]string{
	model.SortByID:   "id",
	model.SortByName: "name",
}

// buildOrderBy строит ORDER BY по whitelist. Вторичная сортировка по id
// делает порядок детерминированным при равных значениях.
func buildOrderBy(field string, descending bool) (string, error) {
	if field == "" {
		field = model.SortByID
	}
	col, ok := allowedSortFields[field]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidSortField, field)
	}

	dir := "ASC"
	if descending {
		dir = "DESC"
	}

	if col == "id" {
		return "ORDER BY id " + dir, nil
	}
	return fmt.Sprintf("ORDER BY %s %s, id ASC", col, dir), nil
}
