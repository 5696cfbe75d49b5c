package models

import "encoding/json"

type JsonQuestion struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
}

// JsonResponse is the application/dns-json rendering of an answer, in the
// layout popularized by public resolvers' JSON APIs.
type JsonResponse struct {
	Status             int            `json:"Status"`
	Truncated          bool           `json:"TC"`
	RecursionDesired   bool           `json:"RD"`
	RecursionAvailable bool           `json:"RA"`
	AuthenticatedData  bool           `json:"AD"`
	CheckingDisabled   bool           `json:"CD"`
	Questions          []JsonQuestion `json:"Question"`
	Answers            []DNSAnswer    `json:"Answer"`
}

func NewJsonResponse(response *DnsResponse) JsonResponse {
	msg := response.msg

	questions := []JsonQuestion{}
	for _, q := range msg.Question {
		questions = append(questions, JsonQuestion{Name: q.Name, Type: q.Qtype})
	}

	return JsonResponse{
		Status:             msg.Rcode,
		Truncated:          msg.Truncated,
		RecursionDesired:   msg.RecursionDesired,
		RecursionAvailable: msg.RecursionAvailable,
		AuthenticatedData:  msg.AuthenticatedData,
		CheckingDisabled:   msg.CheckingDisabled,
		Questions:          questions,
		Answers:            response.Answers(),
	}
}

func (j JsonResponse) Marshal() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, NewError(KindInternal, "failed to marshal json response", err)
	}
	return data, nil
}
