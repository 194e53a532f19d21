package ingress

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// twimlResponse is the TwiML document returned to a Twilio voice fetch.
type twimlResponse struct {
	XMLName xml.Name   `xml:"Response"`
	Say     []twimlSay `xml:"Say"`
}

type twimlSay struct {
	Voice string `xml:"voice,attr,omitempty"`
	Text  string `xml:",chardata"`
}

// voiceAlert renders the TwiML script for an escalated alert call. Twilio
// fetches this URL when the call connects; the alert body is read out
// twice with the ack instruction.
func (s *Server) voiceAlert(c *gin.Context) {
	a, err := s.state.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.String(http.StatusNotFound, "unknown alert")
		return
	}

	script := fmt.Sprintf(
		"This is your assistant with a %s alert. %s. I repeat: %s. Reply ack %s by text message to acknowledge.",
		strings.ToLower(a.Level), flattenForSpeech(a.Body), flattenForSpeech(a.Body), a.ID)

	c.XML(http.StatusOK, twimlResponse{Say: []twimlSay{{Voice: "alice", Text: script}}})
}

// voiceStatus receives Twilio call status callbacks. Failures to reach the
// owner are logged; the escalation ladder already retries on its own.
func (s *Server) voiceStatus(c *gin.Context) {
	sid := c.PostForm("CallSid")
	status := c.PostForm("CallStatus")
	s.logger.Info("ingress: voice call status", "call", sid, "status", status)

	switch status {
	case "busy", "no-answer", "failed":
		s.logger.Warn("ingress: voice call did not connect", "call", sid, "status", status)
	}
	c.Status(http.StatusNoContent)
}

// flattenForSpeech strips formatting that reads badly over text-to-speech.
func flattenForSpeech(text string) string {
	text = strings.ReplaceAll(text, "\n", ". ")
	text = strings.ReplaceAll(text, "*", "")
	text = strings.ReplaceAll(text, "_", " ")
	return strings.Join(strings.Fields(text), " ")
}
