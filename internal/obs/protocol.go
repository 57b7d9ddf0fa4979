package obs

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
)

// obs-websocket v5 opcodes used by this client. Events (op 5) are
// subscribed away during Identify and ignored if they arrive anyway.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opRequest         = 6
	opRequestResponse = 7
)

// rpcVersion is the only protocol revision obs-websocket v5 speaks.
const rpcVersion = 1

// requestStatus code for "output not running", returned by StopRecord
// when no recording is active.
const codeOutputNotRunning = 501

type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	OBSWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type identifyData struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type requestData struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type responseData struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData"`
}

// authToken derives the Identify authentication string from the
// password and the Hello challenge/salt pair:
// base64(sha256(base64(sha256(password+salt)) + challenge)).
func authToken(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	b64 := base64.StdEncoding.EncodeToString(secret[:])
	final := sha256.Sum256([]byte(b64 + challenge))
	return base64.StdEncoding.EncodeToString(final[:])
}

func marshalEnvelope(op int, d any) (envelope, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return envelope{}, err
	}
	return envelope{Op: op, D: raw}, nil
}
