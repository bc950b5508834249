package ir

import "time"

// MessageType tags a protocol message. The pipeline registry is keyed by it.
type MessageType string

const (
	TypeDescriptionRequest  MessageType = "ids:DescriptionRequestMessage"
	TypeDescriptionResponse MessageType = "ids:DescriptionResponseMessage"
	TypeArtifactRequest     MessageType = "ids:ArtifactRequestMessage"
	TypeArtifactResponse    MessageType = "ids:ArtifactResponseMessage"
	TypeContractRequest     MessageType = "ids:ContractRequestMessage"
	TypeContractAgreement   MessageType = "ids:ContractAgreementMessage"
	TypeContractRejection   MessageType = "ids:ContractRejectionMessage"
	TypeResourceUpdate      MessageType = "ids:ResourceUpdateMessage"
	TypeNotification        MessageType = "ids:NotificationMessage"
	TypeMessageProcessed    MessageType = "ids:MessageProcessedNotificationMessage"
	TypeSubscription        MessageType = "ids:SubscriptionMessage"
	TypeRejection           MessageType = "ids:RejectionMessage"
)

// RejectionReason describes why a message could not be processed.
type RejectionReason string

const (
	ReasonBadParameters           RejectionReason = "BAD_PARAMETERS"
	ReasonMalformedMessage        RejectionReason = "MALFORMED_MESSAGE"
	ReasonNotFound                RejectionReason = "NOT_FOUND"
	ReasonNotAuthorized           RejectionReason = "NOT_AUTHORIZED"
	ReasonNotAuthenticated        RejectionReason = "NOT_AUTHENTICATED"
	ReasonInternalRecipientError  RejectionReason = "INTERNAL_RECIPIENT_ERROR"
	ReasonVersionNotSupported     RejectionReason = "VERSION_NOT_SUPPORTED"
	ReasonMessageTypeNotSupported RejectionReason = "MESSAGE_TYPE_NOT_SUPPORTED"
)

// Header is the immutable message header. Optional fields are empty strings
// when absent.
type Header struct {
	Type               MessageType     `json:"@type" validate:"required"`
	ID                 string          `json:"@id" validate:"required,uri"`
	IssuerConnector    string          `json:"issuerConnector" validate:"required,uri"`
	SenderAgent        string          `json:"senderAgent" validate:"required"`
	RecipientConnector []string        `json:"recipientConnector,omitempty" validate:"omitempty,dive,uri"`
	ModelVersion       string          `json:"modelVersion" validate:"required"`
	Issued             time.Time       `json:"issued"`
	SecurityToken      string          `json:"securityToken"`
	CorrelationMessage string          `json:"correlationMessage,omitempty"`
	RequestedArtifact  string          `json:"requestedArtifact,omitempty"`
	RequestedElement   string          `json:"requestedElement,omitempty"`
	TransferContract   string          `json:"transferContract,omitempty"`
	AffectedResource   string          `json:"affectedResource,omitempty"`
	RejectionReason    RejectionReason `json:"rejectionReason,omitempty"`
}

// Envelope is the unit exchanged between connectors.
type Envelope struct {
	Header  Header `json:"header"`
	Payload string `json:"payload,omitempty"`
}

// RuleKind distinguishes permissions, prohibitions and duties.
type RuleKind string

const (
	KindPermission  RuleKind = "ids:Permission"
	KindProhibition RuleKind = "ids:Prohibition"
	KindDuty        RuleKind = "ids:Duty"
)

// Action is the usage action a rule governs.
type Action string

const (
	ActionUse    Action = "USE"
	ActionDelete Action = "DELETE"
	ActionLog    Action = "LOG"
	ActionNotify Action = "NOTIFY"
)

// LeftOperand names the quantity a constraint restricts.
type LeftOperand string

const (
	OperandCount                LeftOperand = "COUNT"
	OperandElapsedTime          LeftOperand = "ELAPSED_TIME"
	OperandPolicyEvaluationTime LeftOperand = "POLICY_EVALUATION_TIME"
	OperandSystem               LeftOperand = "SYSTEM"
	OperandEndpoint             LeftOperand = "ENDPOINT"
	OperandSecurityLevel        LeftOperand = "SECURITY_LEVEL"
)

// Operator relates a left operand to the right operand literal.
type Operator string

const (
	OpEQ             Operator = "EQ"
	OpLTEQ           Operator = "LTEQ"
	OpLT             Operator = "LT"
	OpAfter          Operator = "AFTER"
	OpBefore         Operator = "BEFORE"
	OpSameAs         Operator = "SAME_AS"
	OpShorterEq      Operator = "SHORTER_EQ"
	OpTemporalEquals Operator = "TEMPORAL_EQUALS"
	OpDefinesAs      Operator = "DEFINES_AS"
	OpEquals         Operator = "EQUALS"
)

// Literal type tags used by right operands.
const (
	XSDDouble   = "xsd:double"
	XSDDuration = "xsd:duration"
	XSDDateTime = "xsd:dateTimeStamp"
	XSDAnyURI   = "xsd:anyURI"
	XSDString   = "xsd:string"
)

// Literal is a typed right operand. Values are kept as text so malformed
// operands surface at evaluation time instead of at decode time.
type Literal struct {
	Value string `json:"@value"`
	Type  string `json:"@type,omitempty"`
}

// Constraint restricts a rule.
type Constraint struct {
	LeftOperand  LeftOperand `json:"leftOperand"`
	Operator     Operator    `json:"operator"`
	RightOperand Literal     `json:"rightOperand"`
}

// Rule is a permission, prohibition or duty clause.
type Rule struct {
	ID          string       `json:"@id,omitempty"`
	Kind        RuleKind     `json:"@type"`
	Target      string       `json:"target,omitempty"`
	Action      Action       `json:"action"`
	Constraints []Constraint `json:"constraint,omitempty"`
	PreDuties   []Rule       `json:"preDuty,omitempty"`
	PostDuties  []Rule       `json:"postDuty,omitempty"`
}

// ContractKind tags offers, requests and agreements.
type ContractKind string

const (
	KindOffer     ContractKind = "ids:ContractOffer"
	KindRequest   ContractKind = "ids:ContractRequest"
	KindAgreement ContractKind = "ids:ContractAgreement"
)

// Contract is the shared shape of offers, requests and agreements.
type Contract struct {
	ID            string       `json:"@id"`
	Kind          ContractKind `json:"@type"`
	Consumer      string       `json:"consumer,omitempty"`
	Provider      string       `json:"provider,omitempty"`
	ContractDate  time.Time    `json:"contractDate"`
	ContractStart time.Time    `json:"contractStart"`
	ContractEnd   *time.Time   `json:"contractEnd,omitempty"`
	Permissions   []Rule       `json:"permission,omitempty"`
	Prohibitions  []Rule       `json:"prohibition,omitempty"`
	Obligations   []Rule       `json:"obligation,omitempty"`
}

// Rules returns every rule of the contract: permissions, prohibitions, then obligations.
func (c Contract) Rules() []Rule {
	rules := make([]Rule, 0, len(c.Permissions)+len(c.Prohibitions)+len(c.Obligations))
	rules = append(rules, c.Permissions...)
	rules = append(rules, c.Prohibitions...)
	rules = append(rules, c.Obligations...)
	return rules
}

// Targets returns the distinct rule targets in first-seen order.
func (c Contract) Targets() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range c.Rules() {
		if r.Target == "" || seen[r.Target] {
			continue
		}
		seen[r.Target] = true
		out = append(out, r.Target)
	}
	return out
}

// Agreement is a contract agreement plus local confirmation state.
type Agreement struct {
	Contract
	Confirmed bool `json:"-"`
}

// PolicyPattern is the usage-control semantic a rule's shape classifies into.
type PolicyPattern string

const (
	PatternProvideAccess             PolicyPattern = "PROVIDE_ACCESS"
	PatternProhibitAccess            PolicyPattern = "PROHIBIT_ACCESS"
	PatternNTimesUsage               PolicyPattern = "N_TIMES_USAGE"
	PatternDurationUsage             PolicyPattern = "DURATION_USAGE"
	PatternUsageDuringInterval       PolicyPattern = "USAGE_DURING_INTERVAL"
	PatternUsageUntilDeletion        PolicyPattern = "USAGE_UNTIL_DELETION"
	PatternUsageLogging              PolicyPattern = "USAGE_LOGGING"
	PatternUsageNotification         PolicyPattern = "USAGE_NOTIFICATION"
	PatternConnectorRestrictedUsage  PolicyPattern = "CONNECTOR_RESTRICTED_USAGE"
	PatternSecurityProfileRestricted PolicyPattern = "SECURITY_PROFILE_RESTRICTED_USAGE"
)
