package walwriter

var EncodeFrame = encodeFrame
