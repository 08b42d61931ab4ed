package mpesa

// Response is the synchronous acknowledgement Daraja returns for STK push and
// B2C requests. Error bodies (4xx) use the errorCode/errorMessage fields.
type Response struct {
	MerchantRequestID        string `json:"MerchantRequestID,omitempty"`
	CheckoutRequestID        string `json:"CheckoutRequestID,omitempty"`
	ConversationID           string `json:"ConversationID,omitempty"`
	OriginatorConversationID string `json:"OriginatorConversationID,omitempty"`
	ResponseCode             string `json:"ResponseCode,omitempty"`
	ResponseDescription      string `json:"ResponseDescription,omitempty"`
	CustomerMessage          string `json:"CustomerMessage,omitempty"`

	RequestID    string `json:"requestId,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Accepted is true only for the literal "0" response code.
func (r *Response) Accepted() bool { return r.ResponseCode == "0" }

func (r *Response) Description() string {
	if r.ResponseDescription != "" {
		return r.ResponseDescription
	}
	return r.ErrorMessage
}

// Reference is the id later callbacks are keyed by.
func (r *Response) Reference() string {
	if r.CheckoutRequestID != "" {
		return r.CheckoutRequestID
	}
	return r.ConversationID
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type b2cRequest struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	InitiatorName            string `json:"InitiatorName"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	Amount                   int64  `json:"Amount"`
	PartyA                   string `json:"PartyA"`
	PartyB                   string `json:"PartyB"`
	Remarks                  string `json:"Remarks"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	ResultURL                string `json:"ResultURL"`
	Occasion                 string `json:"Occasion"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// STKCallback is posted to CallBackURL once the payer answers the prompt.
type STKCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// B2CResult is posted to ResultURL (and, on queue timeout, QueueTimeOutURL).
type B2CResult struct {
	Result struct {
		ResultType               int    `json:"ResultType"`
		ResultCode               int    `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ConversationID           string `json:"ConversationID"`
		TransactionID            string `json:"TransactionID"`
	} `json:"Result"`
}

// CallbackAck is the body Daraja expects back from callback endpoints.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}
