// Package main は sapctl コマンドのエントリーポイントです。
// ブラウザの代わりにリレーへログインし、更新系の操作を呼び出します。
package main

import (
	"fmt"
	"os"
)

// ビルド時に設定されるバージョン情報です。
var version = "dev"

func main() {
	cmd := NewRootCmd()
	cmd.Version = version

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
