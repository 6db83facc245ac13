// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// ベアラートークンの検証と権限チェックを行う認証ゲート、
// 型付きエラーを標準JSONレスポンスに変換するエラーレンダラ、
// パニックリカバリ、CORS設定、リクエストID付与を含む。
package middleware
