package processtransaction

type Input struct {
	TransactionID string `json:"transactionId"`
}

type Output struct {
	TransactionID string   `json:"transactionId"`
	Status        string   `json:"status"`
	Stage         string   `json:"stage"`
	FailedStage   string   `json:"failedStage,omitempty"`
	PolicyNumber  string   `json:"policyNumber,omitempty"`
	Premium       string   `json:"premium,omitempty"`
	LastError     string   `json:"lastError,omitempty"`
	RecentLog     []string `json:"recentLog"`
}
