package codecs

import (
	"errors"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

func RegisterCodecs(mediaEngine *webrtc.MediaEngine) error {
	if err := registerCodecs(mediaEngine, videoCodecs, webrtc.RTPCodecTypeVideo); err != nil {
		return err
	}

	return registerCodecs(mediaEngine, audioCodecs, webrtc.RTPCodecTypeAudio)
}

func registerCodecs(mediaEngine *webrtc.MediaEngine, codecs []webrtc.RTPCodecParameters, kind webrtc.RTPCodecType) error {
	errs := []error{}
	for _, codec := range codecs {
		if err := mediaEngine.RegisterCodec(codec, kind); err != nil {
			zap.L().Warn("Codecs.Register.Error", zap.String("mimeType", codec.MimeType), zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) != 0 {
		zap.L().Error("Codecs.Register.Failed", zap.Stringer("kind", kind), zap.Int("errors", len(errs)))
		return errors.Join(errs...)
	}

	return nil
}
