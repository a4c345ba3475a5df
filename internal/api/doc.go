// Package api 暴露收据生成、签署、固定、锚定与校验的 REST 接口。
package api
