package ir

// Subscription is the body of a subscription message. A subscription
// message without a body removes the sender's subscription for the target.
type Subscription struct {
	Target     string `json:"target" validate:"required,uri"`
	Location   string `json:"location" validate:"required,url"`
	Subscriber string `json:"subscriber" validate:"required,uri"`
}

