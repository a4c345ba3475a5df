// Package config 负责加载 receiptd 的 JSON 配置文件，补齐默认值并应用环境变量覆盖。
package config
