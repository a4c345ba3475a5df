package migrations

import "embed"

// Files 包含锚定账本、回执文档与批量验证任务所需的 SQL 迁移。
//
//go:embed *.sql
var Files embed.FS
