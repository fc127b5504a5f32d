package parser

import (
	lferrors "github.com/logflow/jsonimport/pkg/errors"
)

func errNoRegex(line int) error {
	return lferrors.New(lferrors.CodeUnmatchedNonJSONLine,
		"found non-json data; supply a non-json regex to parse it").
		WithContext("line", line)
}

func errUnmatched(line int, text string) error {
	return lferrors.New(lferrors.CodeUnmatchedNonJSONLine,
		"non-json line did not match the supplied regex").
		WithContext("line", line).
		WithContext("text", text)
}

func errCaptureWithoutMatch(line, group int) error {
	return lferrors.Newf(lferrors.CodeAttributeCaptureMismatch,
		"regex capture %d had no corresponding match", group).
		WithContext("line", line)
}

func errAttrWithoutCapture(line int, attr string) error {
	return lferrors.Newf(lferrors.CodeAttributeCaptureMismatch,
		"requested non-json attr %q has no corresponding regex capture", attr).
		WithContext("line", line)
}

func errCaptureWithoutAttr(line int, capture string) error {
	return lferrors.Newf(lferrors.CodeAttributeCaptureMismatch,
		"regex capture %q has no corresponding attr; specify one with --non-json-attr", capture).
		WithContext("line", line)
}

func errMalformed(offset, line int, err error) error {
	return lferrors.MalformedInput(offset, err).WithContext("line", line)
}
