// Package jwks はアイデンティティプロバイダが公開するJSON Web Key Setを使った
// ベアラートークンの検証を提供する。
//
// 鍵セットはkid単位でTTL付きキャッシュし、キャッシュミスまたは
// TTL超過時のみHTTPSで再取得する。取得には必ずタイムアウトが適用される。
package jwks
