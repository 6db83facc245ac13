package db

import (
	"context"
)

const createDrink = `
INSERT INTO drinks (title, recipe) VALUES (?, ?)
`

// CreateDrinkParams はCreateDrinkのパラメータ。
type CreateDrinkParams struct {
	Title  string
	Recipe string
}

// CreateDrink は新しいドリンクを挿入し、採番されたIDを返す。
func (q *Queries) CreateDrink(ctx context.Context, arg CreateDrinkParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, createDrink, arg.Title, arg.Recipe)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const getDrinkByID = `
SELECT id, title, recipe FROM drinks WHERE id = ?
`

// GetDrinkByID はIDでドリンクを1件取得する。
// 存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) GetDrinkByID(ctx context.Context, id int64) (Drink, error) {
	row := q.db.QueryRowContext(ctx, getDrinkByID, id)
	var d Drink
	err := row.Scan(&d.ID, &d.Title, &d.Recipe)
	return d, err
}

const getDrinkByTitle = `
SELECT id, title, recipe FROM drinks WHERE title = ?
`

// GetDrinkByTitle はタイトルでドリンクを1件取得する。
// 存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) GetDrinkByTitle(ctx context.Context, title string) (Drink, error) {
	row := q.db.QueryRowContext(ctx, getDrinkByTitle, title)
	var d Drink
	err := row.Scan(&d.ID, &d.Title, &d.Recipe)
	return d, err
}

const listDrinks = `
SELECT id, title, recipe FROM drinks ORDER BY id
`

// ListDrinks は全ドリンクをID順で取得する。
func (q *Queries) ListDrinks(ctx context.Context) ([]Drink, error) {
	rows, err := q.db.QueryContext(ctx, listDrinks)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var drinks []Drink
	for rows.Next() {
		var d Drink
		if err := rows.Scan(&d.ID, &d.Title, &d.Recipe); err != nil {
			return nil, err
		}
		drinks = append(drinks, d)
	}
	return drinks, rows.Err()
}

const updateDrink = `
UPDATE drinks SET title = ?, recipe = ? WHERE id = ?
`

// UpdateDrinkParams はUpdateDrinkのパラメータ。
type UpdateDrinkParams struct {
	Title  string
	Recipe string
	ID     int64
}

// UpdateDrink は指定IDのドリンクのタイトルとレシピを更新する。
func (q *Queries) UpdateDrink(ctx context.Context, arg UpdateDrinkParams) error {
	_, err := q.db.ExecContext(ctx, updateDrink, arg.Title, arg.Recipe, arg.ID)
	return err
}

const deleteDrink = `
DELETE FROM drinks WHERE id = ?
`

// DeleteDrink は指定IDのドリンクを削除する。
func (q *Queries) DeleteDrink(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deleteDrink, id)
	return err
}
