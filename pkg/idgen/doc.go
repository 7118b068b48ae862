// Package idgen 提供带前缀的资源句柄 ID 生成器
//
// 使用 Sonyflake 算法生成全局唯一且递增的 ID，用于控制面内部的
// 不透明资源句柄（实例、事件）。
//
// 生成的 ID 格式：
//   - 实例 ID: in-{递增数字}
//   - 事件 ID: evt-{递增数字}
//
// 使用方式：
//
//	gen := idgen.DefaultGenerator()
//	instanceID, err := gen.GenerateInstanceID()
//	// instanceID: "in-1234567890"
//	eventID, err := gen.GenerateEventID()
//
// 注意：这里的 ID 只用作持久化记录的不透明句柄，不携带 worker
// identity；需要按 worker identity 划分的业务 ID 请使用 pkg/snowflake。
package idgen
