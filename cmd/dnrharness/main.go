// dnrharness 在加载了扩展的 Chrome 中运行 declarativeNetRequest 行为场景
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
