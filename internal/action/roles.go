package action

import "strings"

// Role 是代理在注册表中的角色。
type Role string

const (
	RolePayment   Role = "payment"
	RoleIdentity  Role = "identity"
	RoleCommunity Role = "community"
	RoleAI        Role = "ai"
)

type roleInfo struct {
	agentType    uint8
	title        string
	capabilities []string
}

var roles = map[Role]roleInfo{
	RolePayment:   {agentType: 5, title: "Payment Agent", capabilities: []string{"payments", "routing", "financial_transactions"}},
	RoleIdentity:  {agentType: 6, title: "Identity Agent", capabilities: []string{"credentials", "verification", "attestations"}},
	RoleCommunity: {agentType: 7, title: "Community Agent", capabilities: []string{"dao_coordination", "group_messaging", "voting"}},
	RoleAI:        {agentType: 0, title: "AI Assistant", capabilities: []string{"ai_assistant", "smart_contracts", "defi_automation"}},
}

// ParseRole 规范化角色名称。
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := roles[role]
	return role, ok
}

// AgentType 返回角色对应的合约枚举值。
func (r Role) AgentType() (uint8, bool) {
	info, ok := roles[r]
	return info.agentType, ok
}

// Capabilities 返回角色的默认能力列表。
func (r Role) Capabilities() ([]string, bool) {
	info, ok := roles[r]
	if !ok {
		return nil, false
	}
	return append([]string(nil), info.capabilities...), true
}

// Title 返回角色的展示名称。
func (r Role) Title() string {
	if info, ok := roles[r]; ok {
		return info.title
	}
	return string(r)
}
