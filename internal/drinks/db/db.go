// Package db はdrinksテーブルへのクエリ実行オブジェクトを提供する。
// database/sqlの接続とトランザクションの両方で同じクエリ群を実行できる。
package db

import (
	"context"
	"database/sql"
)

// DBTX はクエリ実行に必要なdatabase/sqlの操作を抽象化する。
// *sql.DBと*sql.Txの両方がこのインターフェースを満たす。
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries はdrinksテーブルに対するクエリ実行オブジェクト。
type Queries struct {
	db DBTX
}

// New は新しいクエリ実行オブジェクトを生成する。
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx は指定されたトランザクション上でクエリを実行するQueriesを返す。
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}
