package stratum

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/The-Mining-Game/WATTx/internal/jobbroker"
)

func jobView(j *jobbroker.Job) JobView {
	return JobView{
		Blob:     hex.EncodeToString(j.Blob),
		JobID:    j.JobID,
		Target:   hex.EncodeToString(j.ServerTarget[:]),
		Algo:     j.Algo,
		Height:   j.Height,
		SeedHash: hex.EncodeToString(j.SeedHash[:]),
	}
}

func (s *Server) send(c *Client, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.writer.Write(body); err != nil {
		return err
	}
	if _, err := c.writer.Write([]byte("\n")); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (s *Server) sendError(c *Client, id interface{}, code int, message string) {
	s.send(c, &Message{ID: id, Result: nil, Error: &Error{Code: code, Message: message}})
}

// dispatch decodes one frame and routes it by method name to the
// matching dialect handler. Dispatch never happens while clientsMu is
// held.
func (s *Server) dispatch(c *Client, frame []byte) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.sendError(c, nil, ErrCodeMalformed, "invalid JSON")
		return
	}

	switch msg.Method {
	case "mining.subscribe":
		s.handleSubscribe(c, msg.ID)
	case "mining.authorize":
		s.handleAuthorizePositional(c, msg.ID, msg.Params)
	case "mining.submit":
		s.handleSubmitPositional(c, msg.ID, msg.Params)
	case "login":
		s.handleLogin(c, msg.ID, msg.Params)
	case "getjob":
		s.handleGetJob(c, msg.ID)
	case "submit":
		s.handleSubmitObject(c, msg.ID, msg.Params)
	default:
		s.sendError(c, msg.ID, ErrCodeUnknownMethod, "unknown method")
	}
}

// handleSubscribe returns the session ID and the first 8 hex chars of it
// as extranonce1, per the standard shape:
// {"id":<id>,"result":[[["mining.notify","<session>"]],"<session[0..8]>",4],"error":null}
func (s *Server) handleSubscribe(c *Client, id interface{}) {
	c.setState(stateSubscribed)

	extranonce1 := c.SessionID
	if len(extranonce1) > 8 {
		extranonce1 = extranonce1[:8]
	}

	result := []interface{}{
		[]interface{}{[]interface{}{"mining.notify", c.SessionID}},
		extranonce1,
		4,
	}
	s.send(c, &Message{ID: id, Result: result})
}

// handleAuthorizePositional parses params[0] = "wallet[.worker]".
func (s *Server) handleAuthorizePositional(c *Client, id interface{}, params interface{}) {
	arr, ok := params.([]interface{})
	if !ok || len(arr) == 0 {
		s.sendError(c, id, ErrCodeMalformed, "malformed authorize")
		return
	}
	login, _ := arr[0].(string)
	wallet, worker := splitWallet(login)
	c.Wallet = wallet
	c.Worker = worker
	c.setState(stateAuthorized)

	s.send(c, &Message{ID: id, Result: true})
}

func splitWallet(login string) (wallet, worker string) {
	for i := 0; i < len(login); i++ {
		if login[i] == '.' {
			return login[:i], login[i+1:]
		}
	}
	return login, ""
}

type loginParams struct {
	Login string `json:"login"`
	Pass  string `json:"pass"`
}

// handleLogin implements the combined subscribe+authorize+getjob flow:
// {"id":<id>,"jsonrpc":"2.0","result":{"id":"<session>","job":{...},"status":"OK"},"error":null}
func (s *Server) handleLogin(c *Client, id interface{}, params interface{}) {
	raw, _ := json.Marshal(params)
	var p loginParams
	_ = json.Unmarshal(raw, &p)

	wallet, worker := splitWallet(p.Login)
	c.Wallet = wallet
	c.Worker = worker
	c.setState(stateAuthorized)

	job := s.broker.Current()
	if job == nil {
		s.sendError(c, id, ErrCodeUnknownJob, "no job available")
		return
	}

	result := map[string]interface{}{
		"id":     c.SessionID,
		"job":    jobView(job),
		"status": "OK",
	}
	s.send(c, &Message{ID: id, JSONRPC: "2.0", Result: result})
}

func (s *Server) handleGetJob(c *Client, id interface{}) {
	job := s.broker.Current()
	if job == nil {
		s.sendError(c, id, ErrCodeUnknownJob, "no job available")
		return
	}
	s.send(c, &Message{ID: id, Result: jobView(job)})
}

func (s *Server) handleSubmitPositional(c *Client, id interface{}, params interface{}) {
	arr, ok := params.([]interface{})
	if !ok || len(arr) < 3 {
		s.sendError(c, id, ErrCodeMalformed, "malformed submit")
		return
	}
	jobID, _ := arr[1].(string)
	nonceHex, _ := arr[2].(string)
	s.submitShare(c, id, jobID, nonceHex)
}

type submitParams struct {
	JobID string `json:"job_id"`
	Nonce string `json:"nonce"`
}

func (s *Server) handleSubmitObject(c *Client, id interface{}, params interface{}) {
	raw, _ := json.Marshal(params)
	var p submitParams
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, id, ErrCodeMalformed, "malformed submit")
		return
	}
	s.submitShare(c, id, p.JobID, p.Nonce)
}

// submitShare implements validate_and_submit_share: resolve the job_id,
// parse the nonce, and delegate the actual header reconstruction / hash /
// target check / provider submission to the registered callback, which
// lives in minerdriver because it is the one component holding both the
// HashEngine and the BlockTemplateProvider.
func (s *Server) submitShare(c *Client, id interface{}, jobID, nonceHex string) {
	if _, ok := s.broker.Lookup(jobID); !ok {
		s.rejectShare(c, id, ErrCodeUnknownJob, "stale or unknown job")
		return
	}

	nonceBytes, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonceBytes) != 4 {
		s.rejectShare(c, id, ErrCodeMalformed, "malformed nonce")
		return
	}
	nonce := binary.LittleEndian.Uint32(nonceBytes)

	if s.cb.OnSubmit == nil {
		s.sendError(c, id, ErrCodeMalformed, "no submit handler registered")
		return
	}

	accepted, errCode, errMsg := s.cb.OnSubmit(context.Background(), jobID, nonce)
	if !accepted {
		s.rejectShare(c, id, errCode, errMsg)
		return
	}

	s.sharesAccepted.Add(1)
	c.SharesAccepted.Add(1)
	if s.metrics != nil {
		s.metrics.RecordShare("accepted")
	}
	s.recordBlockFound()
	s.send(c, &Message{ID: id, Result: map[string]string{"status": "OK"}})
}

func (s *Server) rejectShare(c *Client, id interface{}, errCode int, errMsg string) {
	s.sharesRejected.Add(1)
	c.SharesRejected.Add(1)
	if s.metrics != nil {
		s.metrics.RecordShare("rejected")
	}
	s.sendError(c, id, errCode, errMsg)
}

// recordBlockFound credits a share that passed the full consensus-target
// check and was accepted by the provider: under this server's submit
// contract, OnSubmit only returns accepted=true once both hold, so every
// accepted share is a found block, per validate_and_submit_share step 8.
func (s *Server) recordBlockFound() {
	s.blocksFound.Add(1)
	if s.metrics != nil {
		s.metrics.RecordBlockFound()
	}
}
