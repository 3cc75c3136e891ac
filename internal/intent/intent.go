package intent

import "encoding/json"

// Type 标识意图种类。
type Type string

const (
	TypeCreate          Type = "create"
	TypeResolve         Type = "resolve"
	TypeGetText         Type = "get_text"
	TypeSetupProfile    Type = "setup_profile"
	TypeUpdate          Type = "update"
	TypeCheck           Type = "check"
	TypeLink            Type = "link"
	TypeTransfer        Type = "transfer"
	TypeRegisterAgent   Type = "register_agent"
	TypePayment         Type = "payment"
	TypeCreateWallet    Type = "create_wallet"
	TypeCreateDAO       Type = "create_dao"
	TypeIssueCredential Type = "issue_credential"
)

// DefaultConfidence 是规则匹配产生的默认置信度。
const DefaultConfidence = 0.8

// Payload 是按意图种类区分的参数载荷，仅本包内的类型实现。
type Payload interface {
	intentType() Type
	parameters() map[string]any
}

// Intent 是对用户输入的结构化解读，创建后不可修改。
type Intent struct {
	Type        Type
	Payload     Payload
	Confidence  float64
	Description string
}

// Parameters 返回载荷的映射视图。
func (i Intent) Parameters() map[string]any {
	if i.Payload == nil {
		return map[string]any{}
	}
	return i.Payload.parameters()
}

// MarshalJSON 以 {type, parameters, confidence, description} 形式输出。
func (i Intent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        Type           `json:"type"`
		Parameters  map[string]any `json:"parameters"`
		Confidence  float64        `json:"confidence"`
		Description string         `json:"description"`
	}{i.Type, i.Parameters(), i.Confidence, i.Description})
}

type Create struct{ Name string }

type Resolve struct{ Name string }

type GetText struct {
	Name string
	Key  string
}

type SetupProfile struct{ Name string }

type Update struct {
	Name    string
	Records map[string]string
}

type Check struct{ Name string }

type Link struct {
	Name    string
	Address string
}

type Transfer struct {
	Name string
	To   string
}

type RegisterAgent struct {
	Name string
	Role string
}

type Payment struct {
	Recipient string
	Amount    string
	Token     string
}

type CreateWallet struct{ Name string }

type CreateDAO struct{ Name string }

type IssueCredential struct {
	Recipient string
	Title     string
}

func (Create) intentType() Type          { return TypeCreate }
func (Resolve) intentType() Type         { return TypeResolve }
func (GetText) intentType() Type         { return TypeGetText }
func (SetupProfile) intentType() Type    { return TypeSetupProfile }
func (Update) intentType() Type          { return TypeUpdate }
func (Check) intentType() Type           { return TypeCheck }
func (Link) intentType() Type            { return TypeLink }
func (Transfer) intentType() Type        { return TypeTransfer }
func (RegisterAgent) intentType() Type   { return TypeRegisterAgent }
func (Payment) intentType() Type         { return TypePayment }
func (CreateWallet) intentType() Type    { return TypeCreateWallet }
func (CreateDAO) intentType() Type       { return TypeCreateDAO }
func (IssueCredential) intentType() Type { return TypeIssueCredential }

func nonEmpty(kv ...string) map[string]any {
	out := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			out[kv[i]] = kv[i+1]
		}
	}
	return out
}

func (p Create) parameters() map[string]any       { return nonEmpty("name", p.Name) }
func (p Resolve) parameters() map[string]any      { return nonEmpty("name", p.Name) }
func (p GetText) parameters() map[string]any      { return nonEmpty("name", p.Name, "key", p.Key) }
func (p SetupProfile) parameters() map[string]any { return nonEmpty("name", p.Name) }
func (p Check) parameters() map[string]any        { return nonEmpty("name", p.Name) }
func (p Link) parameters() map[string]any         { return nonEmpty("name", p.Name, "address", p.Address) }
func (p Transfer) parameters() map[string]any     { return nonEmpty("name", p.Name, "to", p.To) }
func (p RegisterAgent) parameters() map[string]any {
	return nonEmpty("name", p.Name, "role", p.Role)
}
func (p Payment) parameters() map[string]any {
	return nonEmpty("recipient", p.Recipient, "amount", p.Amount, "token", p.Token)
}
func (p CreateWallet) parameters() map[string]any { return nonEmpty("name", p.Name) }
func (p CreateDAO) parameters() map[string]any    { return nonEmpty("name", p.Name) }
func (p IssueCredential) parameters() map[string]any {
	return nonEmpty("recipient", p.Recipient, "title", p.Title)
}

func (p Update) parameters() map[string]any {
	out := nonEmpty("name", p.Name)
	if len(p.Records) > 0 {
		records := make(map[string]string, len(p.Records))
		for k, v := range p.Records {
			records[k] = v
		}
		out["records"] = records
	}
	return out
}
