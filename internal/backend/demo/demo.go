// Package demo is a self-contained Backend with canned answers. It lets a
// server run end to end with no circulation system behind it, for terminal
// bring-up and for tests.
package demo

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/circkit/sip2/internal/server"
	"github.com/circkit/sip2/internal/sip"
)

// Published code-table values used in the canned answers.
const (
	circStatusAvailable   = "03"
	securityWhisperTape   = "03"
	feeTypeOtherUnknown   = "01"
	mediaTypeBoundJournal = "003"
)

// Backend answers status, login, patron-info and item-info requests with
// fixed demonstration data. Other request types go unanswered.
type Backend struct {
	// Institution is echoed as the AO field on every response.
	Institution string
}

func New(institution string) *Backend {
	if institution == "" {
		institution = "example"
	}
	return &Backend{Institution: institution}
}

func (b *Backend) Handle(ctx context.Context, req *sip.Message) (*sip.Message, error) {
	switch req.Spec.Code {
	case sip.MsgSCStatus.Code:
		return b.status()
	case sip.MsgLogin.Code:
		return b.login()
	case sip.MsgPatronInfo.Code:
		return b.patronInfo(req)
	case sip.MsgItemInfo.Code:
		return b.itemInfo(req)
	}
	log.Debug().Str("code", req.Spec.Code).Msg("demo: no handler for request")
	return nil, nil
}

func (b *Backend) status() (*sip.Message, error) {
	resp, err := sip.NewMessage(sip.MsgACSStatus,
		"Y", "N", "N", "N", "N", "N",
		"999", "999", sip.Timestamp(), sip.ProtocolVersion)
	if err != nil {
		return nil, err
	}
	if err := resp.AddField(sip.FieldInstitutionID, b.Institution); err != nil {
		return nil, err
	}
	return resp, nil
}

func (b *Backend) login() (*sip.Message, error) {
	// Every login succeeds.
	return sip.NewMessage(sip.MsgLoginResp, "1")
}

func (b *Backend) patronInfo(req *sip.Message) (*sip.Message, error) {
	resp, err := sip.NewMessage(sip.MsgPatronInfoResp,
		"              ", "000", sip.Timestamp(),
		"0000", "0000", "0000", "0000", "0000", "0000")
	if err != nil {
		return nil, err
	}
	if err := resp.AddField(sip.FieldInstitutionID, b.Institution); err != nil {
		return nil, err
	}
	if err := resp.AddField(sip.FieldPatronID, req.FieldValue(sip.FieldPatronID.Code)); err != nil {
		return nil, err
	}
	if err := resp.AddField(sip.FieldPatronName, "Storm Trooper 12"); err != nil {
		return nil, err
	}
	if err := resp.AddField(sip.FieldValidPatron, "Y"); err != nil {
		return nil, err
	}
	return resp, nil
}

func (b *Backend) itemInfo(req *sip.Message) (*sip.Message, error) {
	resp, err := sip.NewMessage(sip.MsgItemInfoResp,
		circStatusAvailable, securityWhisperTape, feeTypeOtherUnknown, sip.Timestamp())
	if err != nil {
		return nil, err
	}
	if err := resp.AddField(sip.FieldItemID, req.FieldValue(sip.FieldItemID.Code)); err != nil {
		return nil, err
	}
	if err := resp.AddField(sip.FieldTitleID, "Field Guide To Being Watched by Birds"); err != nil {
		return nil, err
	}
	if err := resp.AddField(sip.FieldMediaType, mediaTypeBoundJournal); err != nil {
		return nil, err
	}
	if err := resp.AddField(sip.FieldCurrentLocation, "BR1"); err != nil {
		return nil, err
	}
	if err := resp.AddField(sip.FieldPermanentLocation, "BR2"); err != nil {
		return nil, err
	}
	return resp, nil
}

var _ server.Backend = (*Backend)(nil)
