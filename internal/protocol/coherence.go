package protocol

import "encoding/json"

// Coherence checks cross-reference a new envelope against the prior
// envelope it claims to extend. These require the engine to have already
// looked the prior envelope up by trade_id, so they are kept separate from
// the single-envelope checks in validate.go.

// AppHashFor derives the app_hash binding every RFQ/QUOTE/TERMS must carry:
// hash(protocol_version ‖ solana_program_id). It prevents cross-deployment
// confusion between engines pointed at
// different escrow program deployments.
func AppHashFor(programID string) (string, error) {
	e, err := Unsigned(EnvelopeKind("APP_HASH"), "app-hash", 0, "app-hash", map[string]string{
		"protocol_version": itoa(ProtocolVersion),
		"solana_program_id": programID,
	})
	if err != nil {
		return "", err
	}
	return HashHex(e)
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}

// QuoteMatchesRFQ checks QUOTE.body.rfq_id == hash(RFQ_unsigned), the
// reference a quote must carry back to the RFQ it answers.
func QuoteMatchesRFQ(quote, rfq *Envelope) *SwapError {
	var qb QuoteBody
	if err := decodeBody(quote, &qb); err != nil {
		return err
	}
	rfqHash, herr := HashHex(unsignedOf(rfq))
	if herr != nil {
		return NewSwapError(ErrInternal, "hash rfq", Terminal, herr)
	}
	if qb.RFQID != rfqHash {
		return LocalDropf(ErrSchemaInvalid, "quote.rfq_id does not match the referenced RFQ")
	}
	return nil
}

// QuoteAcceptMatchesQuote checks QUOTE_ACCEPT.body.quote_id == hash(QUOTE_unsigned).
func QuoteAcceptMatchesQuote(accept, quote *Envelope) *SwapError {
	var ab QuoteAcceptBody
	if err := decodeBody(accept, &ab); err != nil {
		return err
	}
	quoteHash, herr := HashHex(unsignedOf(quote))
	if herr != nil {
		return NewSwapError(ErrInternal, "hash quote", Terminal, herr)
	}
	if ab.QuoteID != quoteHash {
		return LocalDropf(ErrSchemaInvalid, "quote_accept.quote_id does not match the referenced QUOTE")
	}
	return nil
}

// AcceptMatchesTerms checks ACCEPT.body.terms_hash == hash(TERMS_unsigned).
func AcceptMatchesTerms(accept, terms *Envelope) *SwapError {
	var ab AcceptBody
	if err := decodeBody(accept, &ab); err != nil {
		return err
	}
	termsHash, herr := HashHex(unsignedOf(terms))
	if herr != nil {
		return NewSwapError(ErrInternal, "hash terms", Terminal, herr)
	}
	if ab.TermsHash != termsHash {
		return LocalDropf(ErrSchemaInvalid, "accept.terms_hash does not match the referenced TERMS")
	}
	return nil
}

// QuoteAcceptSignerMatchesRFQ enforces "signer == RFQ.signer" so a
// QUOTE_ACCEPT cannot hijack someone else's quote.
func QuoteAcceptSignerMatchesRFQ(accept, rfq *Envelope) *SwapError {
	if accept.Signer != rfq.Signer {
		return LocalDropf(ErrSchemaInvalid, "quote_accept signer does not match the original RFQ signer")
	}
	return nil
}

// unsignedOf strips signer/sig, returning the same unsigned view that was
// hashed when the envelope was originally signed.
func unsignedOf(e *Envelope) *Envelope {
	u := *e
	u.Signer = ""
	u.Sig = ""
	return &u
}
