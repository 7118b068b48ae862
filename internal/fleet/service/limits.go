// Package service 提供业务逻辑层的服务实现
// 包括置备/销毁流水线、队列编排器、健康监控和漂移对账循环
package service

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TierLimit 单个套餐的限额
type TierLimit struct {
	Tier         string `yaml:"tier"`          // 套餐名
	MaxInstances int    `yaml:"max_instances"` // 租户最多可持有的实例数
	MaxMembers   int    `yaml:"max_members"`   // 单实例最大成员数
}

// TierLimits 全部套餐限额
type TierLimits struct {
	Tiers []TierLimit `yaml:"tiers"`
}

// DefaultTierLimits 限额文件缺省时的内置限额
func DefaultTierLimits() *TierLimits {
	return &TierLimits{
		Tiers: []TierLimit{
			{Tier: "free", MaxInstances: 1, MaxMembers: 50},
			{Tier: "standard", MaxInstances: 5, MaxMembers: 500},
			{Tier: "premium", MaxInstances: 20, MaxMembers: 5000},
		},
	}
}

// LoadTierLimits 从 YAML 文件加载套餐限额
func LoadTierLimits(path string) (*TierLimits, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier limits file: %w", err)
	}

	var limits TierLimits
	if err := yaml.Unmarshal(raw, &limits); err != nil {
		return nil, fmt.Errorf("parse tier limits file: %w", err)
	}
	if len(limits.Tiers) == 0 {
		return nil, fmt.Errorf("tier limits file %s defines no tiers", path)
	}
	return &limits, nil
}

// Lookup 查找套餐限额，未定义的套餐返回 false
func (l *TierLimits) Lookup(tier string) (*TierLimit, bool) {
	for i := range l.Tiers {
		if l.Tiers[i].Tier == tier {
			return &l.Tiers[i], true
		}
	}
	return nil, false
}
