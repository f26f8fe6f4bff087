// Package logging は全コマンドで共通して使用するzapロガーを構築する。
//
// サーバーやクライアントは *zap.SugaredLogger をコンストラクタで受け取り、
// グローバルなロガーには依存しない。
package logging
