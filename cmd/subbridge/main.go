// Command subbridge は旧パネルから新パネルへのアカウント移行と、旧購読URLを中継するゲートウェイを提供する。
//
// 使い方:
//
//	subbridge [serve|import|exceptions [--force]|migrate|refresh-token|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/subbridge/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "subbridge: %v\n", err)
		os.Exit(1)
	}
}
