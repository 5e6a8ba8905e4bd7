package provider

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
)

const (
	maxXMLDepth = 64
	maxXMLNodes = 50_000
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodePayload turns a 2xx body into one of the payload shapes. Bodies that
// carry a provider error message fail with ErrProviderApplication.
func decodePayload(contentType string, body []byte) (domain.ProviderPayload, error) {
	const op = "decode provider body"
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, utf8BOM))
	if len(trimmed) == 0 {
		return nil, domain.WrapError(domain.ErrUnrecognizedFormat, op, errors.New("empty body"))
	}

	if strings.Contains(strings.ToLower(contentType), "xml") || trimmed[0] == '<' {
		root, err := decodeXMLTree(trimmed)
		if err != nil {
			return nil, domain.WrapError(domain.ErrUnrecognizedFormat, op, err)
		}
		if name := strings.ToLower(root.Name); name == "erro" || name == "error" {
			return nil, domain.WrapError(domain.ErrProviderApplication, op, fmt.Errorf("provider error: %s", truncate(strings.TrimSpace(root.Text), 200)))
		}
		return domain.XMLPayload{Root: root}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, domain.WrapError(domain.ErrUnrecognizedFormat, op, fmt.Errorf("json: %w", err))
	}
	if dec.More() {
		return nil, domain.WrapError(domain.ErrUnrecognizedFormat, op, errors.New("json: trailing data"))
	}
	if msg, ok := providerErrorMessage(doc); ok {
		return nil, domain.WrapError(domain.ErrProviderApplication, op, fmt.Errorf("provider error: %s", truncate(msg, 200)))
	}
	if wrapped, ok := doc["retorno"].(map[string]any); ok {
		if msg, isErr := providerErrorMessage(wrapped); isErr {
			return nil, domain.WrapError(domain.ErrProviderApplication, op, fmt.Errorf("provider error: %s", truncate(msg, 200)))
		}
		return domain.WrappedJSONPayload{Body: doc}, nil
	}
	return domain.FlatJSONPayload{Body: doc}, nil
}

// providerErrorMessage reports a populated "erro"/"error" field.
func providerErrorMessage(body map[string]any) (string, bool) {
	for _, k := range []string{"erro", "error"} {
		v, ok := body[k]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case bool:
			if x {
				return k, true
			}
		case string:
			if strings.TrimSpace(x) != "" {
				return x, true
			}
		case json.Number:
			if x.String() != "0" {
				return x.String(), true
			}
		case map[string]any:
			if m, ok := x["mensagem"].(string); ok {
				return m, true
			}
			if m, ok := x["message"].(string); ok {
				return m, true
			}
			return k, true
		default:
			return fmt.Sprint(x), true
		}
	}
	return "", false
}

// decodeXMLTree builds a namespace-free element tree. Document charset
// declarations such as ISO-8859-1 are honored.
func decodeXMLTree(body []byte) (*domain.XMLNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel

	var (
		root  *domain.XMLNode
		stack []*domain.XMLNode
		nodes int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			nodes++
			if nodes > maxXMLNodes {
				return nil, fmt.Errorf("xml: more than %d elements", maxXMLNodes)
			}
			if len(stack) >= maxXMLDepth {
				return nil, fmt.Errorf("xml: nesting deeper than %d", maxXMLDepth)
			}
			node := &domain.XMLNode{Name: t.Name.Local}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				if node.Attrs == nil {
					node.Attrs = make(map[string]string, len(t.Attr))
				}
				node.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("xml: multiple root elements")
				}
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		case xml.Directive:
			return nil, errors.New("xml: directives are not accepted")
		}
	}
	if root == nil {
		return nil, errors.New("xml: no root element")
	}
	return root, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
