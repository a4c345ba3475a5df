// Package contracts 提供回执锚定合约的源码与部署字节码。
package contracts

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
)

//go:generate go run ./gen

// ReceiptAnchorSource 是 ReceiptAnchor 运行时代码的汇编源码。
//
//go:embed ReceiptAnchor.easm
var ReceiptAnchorSource []byte

//go:embed ReceiptAnchor.bin
var receiptAnchorBin string

// ReceiptAnchorBytecode 返回 ReceiptAnchor 的部署字节码。
func ReceiptAnchorBytecode() []byte {
	return common.FromHex(strings.TrimSpace(receiptAnchorBin))
}

// Assemble 将汇编源码翻译为运行时字节码。
// 每行一条指令；以冒号结尾的行定义标签并生成 JUMPDEST；
// PUSHn 的参数可以是数字，也可以是 @label；分号之后为注释。
func Assemble(src []byte) ([]byte, error) {
	type fixup struct {
		pos   int
		width int
		label string
		line  int
	}
	var (
		code   []byte
		labels = make(map[string]int)
		fixups []fixup
	)
	scanner := bufio.NewScanner(bytes.NewReader(src))
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Text()
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, ":") {
			name := strings.TrimSuffix(line, ":")
			if _, dup := labels[name]; dup {
				return nil, fmt.Errorf("第 %d 行: 标签 %s 重复定义", n, name)
			}
			labels[name] = len(code)
			code = append(code, byte(vm.JUMPDEST))
			continue
		}

		fields := strings.Fields(line)
		op := vm.StringToOp(fields[0])
		if op == vm.STOP && fields[0] != "STOP" {
			return nil, fmt.Errorf("第 %d 行: 未知指令 %s", n, fields[0])
		}
		code = append(code, byte(op))
		if !op.IsPush() || op == vm.PUSH0 {
			if len(fields) != 1 {
				return nil, fmt.Errorf("第 %d 行: %s 不接受参数", n, fields[0])
			}
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("第 %d 行: %s 需要一个参数", n, fields[0])
		}
		width := int(op-vm.PUSH1) + 1
		if label, ok := strings.CutPrefix(fields[1], "@"); ok {
			fixups = append(fixups, fixup{pos: len(code), width: width, label: label, line: n})
			code = append(code, make([]byte, width)...)
			continue
		}
		value, err := parseImmediate(fields[1], width)
		if err != nil {
			return nil, fmt.Errorf("第 %d 行: %w", n, err)
		}
		code = append(code, value...)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	for _, f := range fixups {
		target, ok := labels[f.label]
		if !ok {
			return nil, fmt.Errorf("第 %d 行: 未定义的标签 %s", f.line, f.label)
		}
		if f.width < 4 && target >= 1<<(8*f.width) {
			return nil, fmt.Errorf("第 %d 行: 标签 %s 超出 PUSH%d 范围", f.line, f.label, f.width)
		}
		for i := 0; i < f.width; i++ {
			code[f.pos+f.width-1-i] = byte(target >> (8 * i))
		}
	}
	return code, nil
}

// DeployCode 在运行时代码前加上构造函数，构造函数把运行时代码原样返回。
func DeployCode(runtime []byte) ([]byte, error) {
	const ctorLen = 13
	if len(runtime) > 0xffff {
		return nil, fmt.Errorf("运行时代码过长: %d 字节", len(runtime))
	}
	size := byte(len(runtime) >> 8)
	ctor := []byte{
		byte(vm.PUSH2), size, byte(len(runtime)),
		byte(vm.DUP1),
		byte(vm.PUSH2), 0x00, ctorLen,
		byte(vm.PUSH1), 0x00,
		byte(vm.CODECOPY),
		byte(vm.PUSH1), 0x00,
		byte(vm.RETURN),
	}
	return append(ctor, runtime...), nil
}

func parseImmediate(text string, width int) ([]byte, error) {
	digits, isHex := strings.CutPrefix(text, "0x")
	if !isHex {
		v, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("无法解析立即数 %s", text)
		}
		digits = strconv.FormatUint(v, 16)
	}
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	raw := common.FromHex(digits)
	if len(raw) > width || (len(raw)*2 != len(digits)) {
		return nil, fmt.Errorf("立即数 %s 超出 %d 字节", text, width)
	}
	out := make([]byte, width)
	copy(out[width-len(raw):], raw)
	return out, nil
}
