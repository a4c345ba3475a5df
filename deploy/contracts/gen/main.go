// gen 汇编 ReceiptAnchor.easm 并写出部署字节码 ReceiptAnchor.bin。
package main

import (
	"encoding/hex"
	"log"
	"os"

	"AgentReceipt/deploy/contracts"
)

func main() {
	src, err := os.ReadFile("ReceiptAnchor.easm")
	if err != nil {
		log.Fatalf("读取合约源码失败: %v", err)
	}
	runtime, err := contracts.Assemble(src)
	if err != nil {
		log.Fatalf("汇编合约失败: %v", err)
	}
	code, err := contracts.DeployCode(runtime)
	if err != nil {
		log.Fatalf("生成部署字节码失败: %v", err)
	}
	if err := os.WriteFile("ReceiptAnchor.bin", []byte(hex.EncodeToString(code)+"\n"), 0o644); err != nil {
		log.Fatalf("写入字节码失败: %v", err)
	}
}
